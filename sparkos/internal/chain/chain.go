// Package chain implements the intrusive doubly linked queue used by every
// kernel structure: ready buckets, wait queues, timer lists and free lists.
//
// A Node is embedded in the record it links and carries a back-pointer to
// that record, so queue operations never allocate. A Queue owns a sentinel
// node; the zero value is an empty queue ready for use but it must not be
// copied once a node has been linked into it.
package chain

import "sync"

// Node links a record of type T into at most one Queue.
type Node[T any] struct {
	next, prev *Node[T]
	list       *Queue[T]
	owner      *T
}

// Init binds the node to the record that embeds it.
func (n *Node[T]) Init(owner *T) { n.owner = owner }

// Owner returns the record the node was bound to.
func (n *Node[T]) Owner() *T { return n.owner }

// OffChain reports whether the node is currently not linked.
func (n *Node[T]) OffChain() bool { return n.list == nil }

// Queue is a sentinel-headed circular doubly linked list.
type Queue[T any] struct {
	head  Node[T]
	count int
}

func (q *Queue[T]) lazyInit() {
	if q.head.next == nil {
		q.head.next = &q.head
		q.head.prev = &q.head
	}
}

// Init empties the queue. Nodes that were linked are left dangling, so it
// is only used on fresh or drained queues.
func (q *Queue[T]) Init() {
	q.head.next = &q.head
	q.head.prev = &q.head
	q.count = 0
}

// InitFromArray links every element of items, in order, into an empty
// queue. node returns the embedded node of an element.
func (q *Queue[T]) InitFromArray(items []T, node func(*T) *Node[T]) {
	q.Init()
	for i := range items {
		n := node(&items[i])
		n.Init(&items[i])
		q.Append(n)
	}
}

// Empty reports whether the queue has no nodes.
func (q *Queue[T]) Empty() bool { return q.count == 0 }

// Len returns the number of linked nodes.
func (q *Queue[T]) Len() int { return q.count }

// HasOnlyOne reports whether exactly one node is linked.
func (q *Queue[T]) HasOnlyOne() bool { return q.count == 1 }

// FirstNode returns the head node or nil.
func (q *Queue[T]) FirstNode() *Node[T] {
	if q.count == 0 {
		return nil
	}
	return q.head.next
}

// LastNode returns the tail node or nil.
func (q *Queue[T]) LastNode() *Node[T] {
	if q.count == 0 {
		return nil
	}
	return q.head.prev
}

// First returns the record at the head or nil.
func (q *Queue[T]) First() *T {
	if n := q.FirstNode(); n != nil {
		return n.owner
	}
	return nil
}

// Last returns the record at the tail or nil.
func (q *Queue[T]) Last() *T {
	if n := q.LastNode(); n != nil {
		return n.owner
	}
	return nil
}

// Next returns the node after n, or nil when n is the tail.
func (q *Queue[T]) Next(n *Node[T]) *Node[T] {
	q.mustOwn(n)
	if n.next == &q.head {
		return nil
	}
	return n.next
}

// Prev returns the node before n, or nil when n is the head.
func (q *Queue[T]) Prev(n *Node[T]) *Node[T] {
	q.mustOwn(n)
	if n.prev == &q.head {
		return nil
	}
	return n.prev
}

// Get unlinks and returns the head record, or nil if the queue is empty.
func (q *Queue[T]) Get() *T {
	n := q.FirstNode()
	if n == nil {
		return nil
	}
	q.unlink(n)
	return n.owner
}

// Append links n at the tail.
func (q *Queue[T]) Append(n *Node[T]) {
	q.lazyInit()
	q.link(q.head.prev, n)
}

// Prepend links n at the head.
func (q *Queue[T]) Prepend(n *Node[T]) {
	q.lazyInit()
	q.link(&q.head, n)
}

// InsertAfter links n right after after. A nil after inserts at the head.
func (q *Queue[T]) InsertAfter(after, n *Node[T]) {
	q.lazyInit()
	if after == nil {
		q.link(&q.head, n)
		return
	}
	q.mustOwn(after)
	q.link(after, n)
}

// InsertBefore links n right before before. A nil before appends.
func (q *Queue[T]) InsertBefore(before, n *Node[T]) {
	q.lazyInit()
	if before == nil {
		q.link(q.head.prev, n)
		return
	}
	q.mustOwn(before)
	q.link(before.prev, n)
}

// Extract unlinks n, which must be linked into q.
func (q *Queue[T]) Extract(n *Node[T]) {
	q.mustOwn(n)
	q.unlink(n)
}

// Contains reports whether n is linked into q.
func (q *Queue[T]) Contains(n *Node[T]) bool { return n.list == q }

// Splice moves every node of src, in order, to the tail of q.
func (q *Queue[T]) Splice(src *Queue[T]) {
	for n := src.FirstNode(); n != nil; n = src.FirstNode() {
		src.unlink(n)
		q.Append(n)
	}
}

// Each calls fn for every record from head to tail until fn returns false.
// fn must not unlink the node it is given.
func (q *Queue[T]) Each(fn func(*T) bool) {
	for n := q.FirstNode(); n != nil; n = q.Next(n) {
		if !fn(n.owner) {
			return
		}
	}
}

// GetProtected is Get performed while holding l.
func (q *Queue[T]) GetProtected(l sync.Locker) *T {
	l.Lock()
	defer l.Unlock()
	return q.Get()
}

// AppendProtected is Append performed while holding l.
func (q *Queue[T]) AppendProtected(l sync.Locker, n *Node[T]) {
	l.Lock()
	q.Append(n)
	l.Unlock()
}

// ExtractProtected is Extract performed while holding l.
func (q *Queue[T]) ExtractProtected(l sync.Locker, n *Node[T]) {
	l.Lock()
	q.Extract(n)
	l.Unlock()
}

func (q *Queue[T]) link(prev, n *Node[T]) {
	if n.list != nil {
		panic("chain: node is already linked")
	}
	next := prev.next
	n.prev = prev
	n.next = next
	prev.next = n
	next.prev = n
	n.list = q
	q.count++
}

func (q *Queue[T]) unlink(n *Node[T]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
	n.list = nil
	q.count--
}

func (q *Queue[T]) mustOwn(n *Node[T]) {
	if n.list != q {
		panic("chain: node is not linked into this queue")
	}
}
