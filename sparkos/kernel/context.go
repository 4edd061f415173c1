package kernel

import (
	"fmt"
	"runtime"

	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/watchdog"
)

// Context is the handle a thread body uses to call into the kernel. Its
// methods are dispatch points: a switch requested by an interrupt or by
// the call itself happens before they return.
//
// A Context must only be used by the thread it was handed to.
type Context struct {
	k *Kernel
	t *Thread
}

// Self returns the ID of the calling thread.
func (c *Context) Self() ThreadID { return c.t.id }

// Name returns the name of the calling thread.
func (c *Context) Name() string { return c.t.name }

// Kernel returns the kernel the thread belongs to.
func (c *Context) Kernel() *Kernel { return c.k }

// Now returns the current tick count.
func (c *Context) Now() Ticks { return c.k.wd.Now() }

// Stack returns the stack region reserved for the thread.
func (c *Context) Stack() []byte { return c.t.stack }

// enter disables dispatching for the duration of a kernel call. Calls
// that may block are refused while the thread holds dispatching off.
func (c *Context) enter(blocking bool) error {
	k := c.k
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	if k.executing != c.t {
		return ErrIncorrectState
	}
	if blocking && k.dispatchDisable > 0 {
		return ErrIncorrectState
	}
	k.dispatchDisable++
	return nil
}

func (c *Context) leave() { c.k.enableDispatch(c.t) }

// do runs a kernel-level call as a dispatch point.
func (c *Context) do(fn func() error) error {
	if err := c.enter(false); err != nil {
		return err
	}
	err := fn()
	c.leave()
	return err
}

// waitStatus reads the status left by whoever ended the last wait.
func (c *Context) waitStatus() error {
	lvl := c.k.mask.Disable()
	st := c.t.wait.status
	c.k.mask.Enable(lvl)
	return st.Err()
}

// Yield lets equal-priority threads run.
func (c *Context) Yield() {
	k := c.k
	lvl := k.mask.Disable()
	k.yieldLocked(c.t)
	k.mask.Enable(lvl)
	k.dispatch(c.t)
}

// Checkpoint switches to the heir if an interrupt asked for it.
func (c *Context) Checkpoint() { c.k.dispatch(c.t) }

// Sleep blocks the thread for ticks. Sleep(0) is a yield.
func (c *Context) Sleep(ticks Ticks) error {
	if ticks == 0 {
		c.Yield()
		return nil
	}
	if err := c.enter(true); err != nil {
		return err
	}
	k, t := c.k, c.t
	lvl := k.mask.Disable()
	k.setStateLocked(t, StateDelaying)
	t.timer.Init(k.threadWake, uint32(t.id), nil)
	k.mask.Enable(lvl)

	k.wd.Insert(&t.timer, ticks, watchdog.Relative)
	c.leave()
	return nil
}

// Exit ends the calling thread with value as its exit value. It does not
// return.
func (c *Context) Exit(value any) {
	c.t.exitValue = value
	runtime.Goexit()
}

// DisableDispatch defers context switches until the matching
// EnableDispatch. Calls nest.
func (c *Context) DisableDispatch() { c.k.disableDispatch() }

// EnableDispatch undoes one DisableDispatch and switches if the heir
// changed meanwhile.
func (c *Context) EnableDispatch() { c.k.enableDispatch(c.t) }

// ThreadCreate creates a dormant thread.
func (c *Context) ThreadCreate(attr ThreadAttr) (ThreadID, error) {
	return c.k.ThreadCreate(attr)
}

// ThreadStart starts a dormant thread; it runs at once if it outranks the
// caller.
func (c *Context) ThreadStart(id ThreadID) error {
	return c.do(func() error { return c.k.ThreadStart(id) })
}

// ThreadSuspend suspends a thread, possibly the caller.
func (c *Context) ThreadSuspend(id ThreadID) error {
	if err := c.enter(id == c.t.id); err != nil {
		return err
	}
	k := c.k
	lvl := k.mask.Disable()
	st := k.threadSuspendLocked(id)
	k.mask.Enable(lvl)
	c.leave()
	return st.Err()
}

// ThreadResume undoes one suspension of a thread.
func (c *Context) ThreadResume(id ThreadID) error {
	return c.do(func() error { return c.k.ThreadResume(id) })
}

// ThreadSetPriority changes the real priority of a thread and returns the
// previous one.
func (c *Context) ThreadSetPriority(id ThreadID, p Priority) (Priority, error) {
	var old Priority
	err := c.do(func() error {
		var err error
		old, err = c.k.ThreadSetPriority(id, p)
		return err
	})
	return old, err
}

// ThreadJoin waits for a thread to exit and returns its exit value.
func (c *Context) ThreadJoin(id ThreadID, timeout Ticks) (any, error) {
	if err := c.enter(true); err != nil {
		return nil, err
	}
	k, t := c.k, c.t
	lvl := k.mask.Disable()
	target, ok := k.threads.Get(objects.ID(id))
	if !ok || target == t || target == k.idle {
		k.mask.Enable(lvl)
		c.leave()
		if !ok {
			return nil, ErrInvalidID
		}
		return nil, ErrIncorrectState
	}
	t.wait.value = nil
	target.joinQ.enterCriticalLocked(t, objects.ID(id))
	k.mask.Enable(lvl)

	k.enqueueThread(&target.joinQ, t, timeout)
	c.leave()

	lvl = k.mask.Disable()
	st, value := t.wait.status, t.wait.value
	t.wait.value = nil
	k.mask.Enable(lvl)
	if st != StatusSuccessful {
		return nil, st
	}
	return value, nil
}

// MutexCreate creates a mutex. When locked is set the caller holds it on
// return.
func (c *Context) MutexCreate(attr MutexAttr, locked bool) (MutexID, error) {
	id, err := c.k.MutexCreate(attr)
	if err != nil || !locked {
		return id, err
	}
	if err := c.MutexTryLock(id); err != nil {
		_ = c.k.MutexDestroy(id)
		return 0, err
	}
	return id, nil
}

// MutexLock acquires a mutex. Without wait a held mutex fails with
// ErrUnsatisfiedNoWait.
func (c *Context) MutexLock(id MutexID, wait bool, timeout Ticks) error {
	if err := c.enter(wait); err != nil {
		return err
	}
	k, t := c.k, c.t
	lvl := k.mask.Disable()
	m, ok := k.mutexes.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		c.leave()
		return ErrInvalidID
	}
	st, block := k.mutexSeizeLocked(m, t)
	if !block || !wait {
		k.mask.Enable(lvl)
		c.leave()
		if block {
			return ErrUnsatisfiedNoWait
		}
		return st.Err()
	}
	if m.attr.Protocol == MutexInherit && m.holder.current > t.current {
		k.changePriorityLocked(m.holder, t.current, false)
	}
	m.wq.enterCriticalLocked(t, objects.ID(id))
	k.mask.Enable(lvl)

	k.enqueueThread(&m.wq, t, timeout)
	c.leave()
	return c.waitStatus()
}

// MutexTryLock acquires a mutex only if it is free or already held by the
// caller.
func (c *Context) MutexTryLock(id MutexID) error {
	return c.MutexLock(id, false, NoTimeout)
}

// MutexUnlock releases one level of a mutex.
func (c *Context) MutexUnlock(id MutexID) error {
	if err := c.enter(false); err != nil {
		return err
	}
	k := c.k
	lvl := k.mask.Disable()
	m, ok := k.mutexes.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		c.leave()
		return ErrInvalidID
	}
	st := k.mutexSurrenderLocked(m, c.t)
	k.mask.Enable(lvl)
	c.leave()
	return st.Err()
}

// CondWait releases mid, waits for a signal and locks mid again.
func (c *Context) CondWait(id CondID, mid MutexID) error {
	return c.condWait(id, mid, NoTimeout)
}

// CondTimedWait is CondWait with a timeout. The mutex is held again on
// return even when the wait timed out.
func (c *Context) CondTimedWait(id CondID, mid MutexID, timeout Ticks) error {
	if timeout == NoTimeout {
		return ErrInvalidArgument
	}
	return c.condWait(id, mid, timeout)
}

func (c *Context) condWait(id CondID, mid MutexID, timeout Ticks) error {
	if err := c.enter(true); err != nil {
		return err
	}
	k, t := c.k, c.t
	lvl := k.mask.Disable()
	st := c.condEnterLocked(id, mid)
	if st != StatusSuccessful {
		k.mask.Enable(lvl)
		c.leave()
		return st
	}
	cv, _ := k.conds.Get(objects.ID(id))
	k.mask.Enable(lvl)

	k.enqueueThread(&cv.wq, t, timeout)
	c.leave()
	werr := c.waitStatus()

	lvl = k.mask.Disable()
	if cv, ok := k.conds.Get(objects.ID(id)); ok {
		cv.unbindIfIdleLocked()
	}
	k.mask.Enable(lvl)

	if err := c.MutexLock(mid, true, NoTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrReacquire, err)
	}
	return werr
}

// condEnterLocked validates a wait, binds the condition to mid and
// releases the mutex. The caller is left committed to blocking.
func (c *Context) condEnterLocked(id CondID, mid MutexID) Status {
	k, t := c.k, c.t
	cv, ok := k.conds.Get(objects.ID(id))
	if !ok {
		return StatusInvalidID
	}
	m, ok := k.mutexes.Get(objects.ID(mid))
	if !ok {
		return StatusInvalidID
	}
	if cv.mutex != 0 && cv.mutex != mid {
		return StatusMismatchedMutex
	}
	if !m.locked || m.holder != t {
		return StatusNotOwnerOfResource
	}
	if m.nest > 1 {
		return StatusIncorrectState
	}
	cv.mutex = mid
	cv.wq.enterCriticalLocked(t, objects.ID(id))
	k.mutexSurrenderLocked(m, t)
	return StatusSuccessful
}

// CondSignal wakes the most important waiter of a condition.
func (c *Context) CondSignal(id CondID) error {
	return c.do(func() error { return c.k.CondSignal(id) })
}

// CondBroadcast wakes every waiter of a condition.
func (c *Context) CondBroadcast(id CondID) (int, error) {
	var n int
	err := c.do(func() error {
		var err error
		n, err = c.k.CondBroadcast(id)
		return err
	})
	return n, err
}

// MessageQueueSend appends msg to a queue.
func (c *Context) MessageQueueSend(id QueueID, msg []byte, wait bool, timeout Ticks) error {
	return c.send(id, msg, PrioritySend, wait, timeout)
}

// MessageQueueUrgent puts msg in front of every pending message.
func (c *Context) MessageQueueUrgent(id QueueID, msg []byte, wait bool, timeout Ticks) error {
	return c.send(id, msg, PriorityUrgent, wait, timeout)
}

// MessageQueueSendPriority inserts msg after every pending message whose
// tag is not greater than prio.
func (c *Context) MessageQueueSendPriority(id QueueID, msg []byte, prio int, wait bool, timeout Ticks) error {
	return c.send(id, msg, prio, wait, timeout)
}

func (c *Context) send(id QueueID, msg []byte, prio int, wait bool, timeout Ticks) error {
	if err := c.enter(wait); err != nil {
		return err
	}
	k, t := c.k, c.t
	lvl := k.mask.Disable()
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		c.leave()
		return ErrInvalidID
	}
	st, full, notify := k.submitLocked(q, msg, prio)
	if !full || !wait {
		fn, arg := q.notify, q.notifyArg
		k.mask.Enable(lvl)
		if notify && fn != nil {
			fn(id, arg)
		}
		c.leave()
		if full {
			return ErrUnsatisfiedNoWait
		}
		return st.Err()
	}
	t.wait.buf = msg
	t.wait.size = len(msg)
	t.wait.priority = prio
	t.wait.sending = true
	q.wq.enterCriticalLocked(t, objects.ID(id))
	k.mask.Enable(lvl)

	k.enqueueThread(&q.wq, t, timeout)
	c.leave()

	lvl = k.mask.Disable()
	t.wait.buf = nil
	t.wait.sending = false
	st = t.wait.status
	k.mask.Enable(lvl)
	return st.Err()
}

// MessageQueueReceive copies the first pending message into buf, which
// must hold the queue's largest message, and returns its length.
func (c *Context) MessageQueueReceive(id QueueID, buf []byte, wait bool, timeout Ticks) (int, error) {
	if err := c.enter(wait); err != nil {
		return 0, err
	}
	k, t := c.k, c.t
	lvl := k.mask.Disable()
	q, ok := k.queues.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		c.leave()
		return 0, ErrInvalidID
	}
	if len(buf) < q.attr.MaxSize {
		k.mask.Enable(lvl)
		c.leave()
		return 0, ErrInvalidSize
	}
	if m := q.pending.Get(); m != nil {
		n := copy(buf, m.data[:m.size])
		// A sender blocked on the full queue takes the freed buffer.
		q.inactive.Append(&m.node)
		notify := k.refillLocked(q)
		fn, arg := q.notify, q.notifyArg
		k.mask.Enable(lvl)
		if notify && fn != nil {
			fn(id, arg)
		}
		c.leave()
		return n, nil
	}
	if !wait {
		k.mask.Enable(lvl)
		c.leave()
		return 0, ErrUnsatisfiedNoWait
	}
	t.wait.buf = buf
	t.wait.size = 0
	q.wq.enterCriticalLocked(t, objects.ID(id))
	k.mask.Enable(lvl)

	k.enqueueThread(&q.wq, t, timeout)
	c.leave()

	lvl = k.mask.Disable()
	st, n := t.wait.status, t.wait.size
	t.wait.buf = nil
	k.mask.Enable(lvl)
	if st != StatusSuccessful {
		return 0, st
	}
	return n, nil
}

// MessageQueueBroadcast copies msg to every receiver blocked on a queue.
func (c *Context) MessageQueueBroadcast(id QueueID, msg []byte) (int, error) {
	var n int
	err := c.do(func() error {
		var err error
		n, err = c.k.MessageQueueBroadcast(id, msg)
		return err
	})
	return n, err
}

// MessageQueueFlush discards a queue's pending messages. Senders it
// unblocks may run before it returns.
func (c *Context) MessageQueueFlush(id QueueID) (int, error) {
	var n int
	err := c.do(func() error {
		var err error
		n, err = c.k.MessageQueueFlush(id)
		return err
	})
	return n, err
}

// MessageQueueFlushWaiters wakes every thread blocked on a queue with
// ErrObjectWasDeleted.
func (c *Context) MessageQueueFlushWaiters(id QueueID) (int, error) {
	var n int
	err := c.do(func() error {
		var err error
		n, err = c.k.MessageQueueFlushWaiters(id)
		return err
	})
	return n, err
}

// CondFlush wakes every waiter of a condition with ErrObjectWasDeleted.
func (c *Context) CondFlush(id CondID) (int, error) {
	var n int
	err := c.do(func() error {
		var err error
		n, err = c.k.CondFlush(id)
		return err
	})
	return n, err
}
