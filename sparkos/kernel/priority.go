package kernel

import (
	"math/bits"

	"sparkrt/sparkos/internal/chain"
)

// Priority orders threads. 0 is the most important; PriorityLowest is the
// least important priority a user thread may have.
type Priority uint8

const (
	PriorityHighest Priority = 0
	PriorityLowest  Priority = 254
	// PriorityIdle belongs to the idle thread.
	PriorityIdle Priority = 255

	priorityLevels = 256
	groupBits      = 64
	groups         = priorityLevels / groupBits
)

// readyQueues holds one FIFO bucket per priority and a two level bitmap
// of non-empty buckets.
type readyQueues struct {
	summary uint8
	group   [groups]uint64
	buckets [priorityLevels]chain.Queue[Thread]
}

func (r *readyQueues) mark(p Priority) {
	g := int(p) / groupBits
	r.group[g] |= 1 << (uint(p) % groupBits)
	r.summary |= 1 << uint(g)
}

func (r *readyQueues) unmarkIfEmpty(p Priority) {
	if !r.buckets[p].Empty() {
		return
	}
	g := int(p) / groupBits
	r.group[g] &^= 1 << (uint(p) % groupBits)
	if r.group[g] == 0 {
		r.summary &^= 1 << uint(g)
	}
}

// enqueue links t at the tail of its bucket.
func (r *readyQueues) enqueue(t *Thread) {
	t.readyAt = t.current
	r.buckets[t.current].Append(&t.node)
	r.mark(t.current)
}

// enqueueFirst links t at the head of its bucket.
func (r *readyQueues) enqueueFirst(t *Thread) {
	t.readyAt = t.current
	r.buckets[t.current].Prepend(&t.node)
	r.mark(t.current)
}

func (r *readyQueues) extract(t *Thread) {
	r.buckets[t.readyAt].Extract(&t.node)
	r.unmarkIfEmpty(t.readyAt)
}

// highest returns the first thread of the most important non-empty bucket.
func (r *readyQueues) highest() *Thread {
	if r.summary == 0 {
		return nil
	}
	g := bits.TrailingZeros8(r.summary)
	p := g*groupBits + bits.TrailingZeros64(r.group[g])
	return r.buckets[p].First()
}

// rotate moves t behind its equal-priority peers. It reports whether t
// had any.
func (r *readyQueues) rotate(t *Thread) bool {
	b := &r.buckets[t.readyAt]
	if b.HasOnlyOne() {
		return false
	}
	b.Extract(&t.node)
	b.Append(&t.node)
	return true
}

func (r *readyQueues) first(p Priority) *Thread { return r.buckets[p].First() }
