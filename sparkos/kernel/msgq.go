package kernel

import (
	"math"

	"sparkrt/sparkos/internal/chain"
	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/workspace"
)

// Message priority tags. Any other value is sorted ascending, FIFO among
// equal tags.
const (
	PrioritySend   = math.MaxInt32
	PriorityUrgent = math.MinInt32
)

// messageHeaderSize is the per-buffer overhead charged to the workspace.
const messageHeaderSize = 16

// NotifyFunc is called when a queue goes from empty to non-empty. It runs
// in the context of the sender and must not block.
type NotifyFunc func(id QueueID, arg any)

// QueueAttr describes a message queue to create.
type QueueAttr struct {
	Name       string
	MaxPending int
	MaxSize    int
	// Discipline orders blocked senders and receivers.
	Discipline Discipline
}

type message struct {
	node     chain.Node[message]
	priority int
	size     int
	data     []byte
}

// MessageQueue is a bounded queue of byte messages.
type MessageQueue struct {
	id        QueueID
	attr      QueueAttr
	block     workspace.Block
	buffers   []message
	inactive  chain.Queue[message]
	pending   chain.Queue[message]
	wq        threadQueue
	notify    NotifyFunc
	notifyArg any
}

// QueueInfo is a snapshot of a message queue.
type QueueInfo struct {
	ID         QueueID
	Name       string
	MaxPending int
	MaxSize    int
	Pending    int
	Waiters    int
}

func (q *MessageQueue) infoLocked() QueueInfo {
	return QueueInfo{
		ID:         q.id,
		Name:       q.attr.Name,
		MaxPending: q.attr.MaxPending,
		MaxSize:    q.attr.MaxSize,
		Pending:    q.pending.Len(),
		Waiters:    q.wq.len(),
	}
}

// MessageQueueCreate creates a queue whose buffers come from the workspace.
func (k *Kernel) MessageQueueCreate(attr QueueAttr) (QueueID, error) {
	if attr.MaxPending <= 0 || attr.MaxSize <= 0 {
		return 0, ErrInvalidSize
	}
	stride := uint64(attr.MaxSize) + messageHeaderSize
	total := uint64(attr.MaxPending) * stride
	if total/stride != uint64(attr.MaxPending) || total > math.MaxInt32 {
		return 0, ErrUnsatisfied
	}
	blk, err := k.heap.Allocate(int(total))
	if err != nil {
		k.log.Warnf("queue %q: buffers: %v", attr.Name, err)
		return 0, ErrUnsatisfied
	}

	lvl := k.mask.Disable()
	q, oid, err := k.queues.Allocate()
	if err != nil {
		k.mask.Enable(lvl)
		_ = k.heap.Free(blk)
		return 0, ErrTooMany
	}
	q.id = QueueID(oid)
	q.attr = attr
	q.block = blk
	q.buffers = make([]message, attr.MaxPending)
	mem := blk.Bytes()
	for i := range q.buffers {
		off := i*int(stride) + messageHeaderSize
		q.buffers[i].data = mem[off : off+attr.MaxSize : off+attr.MaxSize]
	}
	q.inactive.InitFromArray(q.buffers, func(m *message) *chain.Node[message] { return &m.node })
	q.pending.Init()
	q.wq.init(attr.Discipline, StateWaitingMessage, StatusTimeout)
	_ = k.queues.Open(oid)
	k.mask.Enable(lvl)

	k.log.Debugf("queue %s %q created pending=%d size=%d", q.id, attr.Name, attr.MaxPending, attr.MaxSize)
	return QueueID(oid), nil
}

// insertLocked links m into the pending list by its priority tag. It
// reports whether the list was empty before.
func (q *MessageQueue) insertLocked(m *message) bool {
	wasEmpty := q.pending.Empty()
	switch m.priority {
	case PrioritySend:
		q.pending.Append(&m.node)
	case PriorityUrgent:
		q.pending.Prepend(&m.node)
	default:
		var before *chain.Node[message]
		for n := q.pending.FirstNode(); n != nil; n = q.pending.Next(n) {
			if n.Owner().priority > m.priority {
				before = n
				break
			}
		}
		q.pending.InsertBefore(before, &m.node)
	}
	return wasEmpty
}

// takeWaiterLocked dequeues the next blocked thread when it is a sender
// (sending set) or a receiver (sending clear). A queue's waiters are all
// of one kind, so only the head is checked.
func (q *MessageQueue) takeWaiterLocked(k *Kernel, sending bool) *Thread {
	t := q.wq.firstLocked()
	if t == nil {
		t = k.executing
		if t == nil || t.wait.queue != &q.wq {
			return nil
		}
	}
	if t.wait.sending != sending {
		return nil
	}
	return q.wq.dequeueLocked(k)
}

// refillLocked moves blocked senders into free buffers. It reports
// whether the pending list went from empty to non-empty.
func (k *Kernel) refillLocked(q *MessageQueue) bool {
	notify := false
	for !q.inactive.Empty() {
		s := q.takeWaiterLocked(k, true)
		if s == nil {
			break
		}
		m := q.inactive.Get()
		m.size = copy(m.data, s.wait.buf[:s.wait.size])
		m.priority = s.wait.priority
		if q.insertLocked(m) {
			notify = true
		}
	}
	return notify
}

// submitLocked delivers msg to a waiting receiver or a free buffer. full
// is set when neither was available.
func (k *Kernel) submitLocked(q *MessageQueue, msg []byte, prio int) (st Status, full, notify bool) {
	if len(msg) > q.attr.MaxSize {
		return StatusInvalidSize, false, false
	}
	if q.pending.Empty() {
		if t := q.takeWaiterLocked(k, false); t != nil {
			t.wait.size = copy(t.wait.buf, msg)
			return StatusSuccessful, false, false
		}
	}
	m := q.inactive.Get()
	if m == nil {
		return StatusUnsatisfied, true, false
	}
	m.size = copy(m.data, msg)
	m.priority = prio
	return StatusSuccessful, false, q.insertLocked(m)
}

// MessageQueueSendFromISR submits msg without blocking. It is the only
// send usable from interrupt context.
func (k *Kernel) MessageQueueSendFromISR(id QueueID, msg []byte, prio int) error {
	lvl := k.mask.Disable()
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		k.leaveISR(lvl)
		return ErrInvalidID
	}
	st, full, notify := k.submitLocked(q, msg, prio)
	fn, arg := q.notify, q.notifyArg
	k.leaveISR(lvl)

	if full {
		return ErrUnsatisfiedNoWait
	}
	if notify && fn != nil {
		fn(id, arg)
	}
	return st.Err()
}

func (k *Kernel) broadcastLocked(id QueueID, msg []byte) (int, Status) {
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		return 0, StatusInvalidID
	}
	if len(msg) > q.attr.MaxSize {
		return 0, StatusInvalidSize
	}
	if !q.pending.Empty() {
		return 0, StatusSuccessful
	}
	n := 0
	for t := q.takeWaiterLocked(k, false); t != nil; t = q.takeWaiterLocked(k, false) {
		t.wait.size = copy(t.wait.buf, msg)
		n++
	}
	return n, StatusSuccessful
}

// MessageQueueBroadcast copies msg to every blocked receiver and returns
// how many got it. Nothing is delivered while messages are pending.
func (k *Kernel) MessageQueueBroadcast(id QueueID, msg []byte) (int, error) {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	n, st := k.broadcastLocked(id, msg)
	return n, st.Err()
}

// MessageQueueFlush discards pending messages and returns how many there
// were. Senders blocked on the full queue then move into the freed
// buffers and return.
func (k *Kernel) MessageQueueFlush(id QueueID) (int, error) {
	lvl := k.mask.Disable()
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		return 0, ErrInvalidID
	}
	n := 0
	for m := q.pending.Get(); m != nil; m = q.pending.Get() {
		q.inactive.Append(&m.node)
		n++
	}
	notify := k.refillLocked(q)
	fn, arg := q.notify, q.notifyArg
	k.leaveISR(lvl)

	if notify && fn != nil {
		fn(id, arg)
	}
	return n, nil
}

// MessageQueueFlushWaiters wakes every thread blocked on a queue with
// ErrObjectWasDeleted and returns how many there were. Pending messages
// stay.
func (k *Kernel) MessageQueueFlushWaiters(id QueueID) (int, error) {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		return 0, ErrInvalidID
	}
	return q.wq.flushLocked(k, StatusObjectWasDeleted, nil), nil
}

// MessageQueueSetNotify installs fn as the empty to non-empty callback.
// A nil fn removes it.
func (k *Kernel) MessageQueueSetNotify(id QueueID, fn NotifyFunc, arg any) error {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		return ErrInvalidID
	}
	q.notify = fn
	q.notifyArg = arg
	return nil
}

// MessageQueueDestroy deletes a queue that has no blocked threads and
// returns its buffers to the workspace. MessageQueueFlushWaiters clears
// a busy queue first.
func (k *Kernel) MessageQueueDestroy(id QueueID) error {
	lvl := k.mask.Disable()
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		return ErrInvalidID
	}
	if q.wq.len() > 0 {
		k.mask.Enable(lvl)
		return ErrBusy
	}
	blk := q.block
	_ = k.queues.Close(objects.ID(id))
	k.mask.Enable(lvl)

	if err := k.heap.Free(blk); err != nil {
		k.log.Errorf("queue %s: free buffers: %v", id, err)
	}

	lvl = k.mask.Disable()
	_ = k.queues.Free(objects.ID(id))
	k.mask.Enable(lvl)
	return nil
}

// MessageQueueInfo returns a snapshot of a queue.
func (k *Kernel) MessageQueueInfo(id QueueID) (QueueInfo, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		return QueueInfo{}, ErrInvalidID
	}
	return q.infoLocked(), nil
}

// MessageQueues returns a snapshot of every queue.
func (k *Kernel) MessageQueues() []QueueInfo {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	var out []QueueInfo
	k.queues.Each(func(_ objects.ID, q *MessageQueue) bool {
		out = append(out, q.infoLocked())
		return true
	})
	return out
}
