package kernel

import (
	"sparkrt/sparkos/internal/chain"
	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/watchdog"
)

// Discipline orders the threads blocked on a queue.
type Discipline uint8

const (
	DisciplineFIFO Discipline = iota
	DisciplinePriority
)

func (d Discipline) String() string {
	if d == DisciplinePriority {
		return "priority"
	}
	return "fifo"
}

// syncState tracks a thread that has committed to blocking on a queue but
// is not linked into it yet.
type syncState uint8

const (
	syncSynchronized syncState = iota
	syncNothingHappened
	syncSatisfied
	syncTimeout
)

// threadQueue is a wait list of blocked threads.
//
// In priority mode heads holds the first waiter of each distinct priority,
// in ascending priority order; later waiters of the same priority are
// chained on that head's samePrio queue.
type threadQueue struct {
	discipline    Discipline
	waitState     ThreadState
	timeoutStatus Status
	sync          syncState
	heads         chain.Queue[Thread]
	count         int
}

func (tq *threadQueue) init(d Discipline, s ThreadState, timeout Status) {
	tq.discipline = d
	tq.waitState = s
	tq.timeoutStatus = timeout
	tq.sync = syncSynchronized
	tq.heads.Init()
	tq.count = 0
}

func (tq *threadQueue) len() int { return tq.count }

// enterCriticalLocked arms the queue for t, which is about to block on it.
func (tq *threadQueue) enterCriticalLocked(t *Thread, id objects.ID) {
	tq.sync = syncNothingHappened
	t.wait.queue = tq
	t.wait.status = StatusSuccessful
	t.wait.id = id
}

// abandonLocked undoes enterCriticalLocked when the caller decides not to
// block after all.
func (tq *threadQueue) abandonLocked(t *Thread) {
	tq.sync = syncSynchronized
	t.wait.queue = nil
}

// enqueueThread blocks t on tq. The caller has dispatch disabled, does not
// hold the mask and has called enterCriticalLocked. An interrupt may
// satisfy or time out the wait before t is linked; the sync state records
// that and t is made ready again instead.
func (k *Kernel) enqueueThread(tq *threadQueue, t *Thread, timeout Ticks) {
	lvl := k.mask.Disable()
	k.setStateLocked(t, tq.waitState)
	if timeout != NoTimeout {
		t.timer.Init(k.threadTimeout, uint32(t.id), nil)
	}
	k.mask.Enable(lvl)

	if timeout != NoTimeout {
		k.wd.Insert(&t.timer, timeout, watchdog.Relative)
	}
	if k.enqueueHook != nil {
		k.enqueueHook(t)
	}

	lvl = k.mask.Disable()
	sync := tq.sync
	tq.sync = syncSynchronized
	if sync == syncNothingHappened {
		tq.insertLocked(t)
		k.mask.Enable(lvl)
		return
	}
	t.wait.queue = nil
	k.wd.RemoveLocked(&t.timer)
	k.clearStateLocked(t, stateBlocked)
	k.mask.Enable(lvl)
}

func (tq *threadQueue) insertLocked(t *Thread) {
	tq.count++
	t.queuedOn = tq
	t.waitHead = nil
	t.waitPrio = t.current
	if tq.discipline == DisciplineFIFO {
		tq.heads.Append(&t.node)
		return
	}
	for n := tq.heads.FirstNode(); n != nil; n = tq.heads.Next(n) {
		h := n.Owner()
		if h.waitPrio == t.waitPrio {
			t.waitHead = h
			h.samePrio.Append(&t.node)
			return
		}
		if h.waitPrio > t.waitPrio {
			tq.heads.InsertBefore(n, &t.node)
			return
		}
	}
	tq.heads.Append(&t.node)
}

// removeLocked unlinks t, promoting its first equal-priority follower when
// t heads a chain.
func (tq *threadQueue) removeLocked(t *Thread) {
	tq.count--
	t.queuedOn = nil
	if tq.discipline == DisciplineFIFO {
		tq.heads.Extract(&t.node)
		return
	}
	if h := t.waitHead; h != nil {
		h.samePrio.Extract(&t.node)
		t.waitHead = nil
		return
	}
	if next := t.samePrio.First(); next != nil {
		t.samePrio.Extract(&next.node)
		tq.heads.InsertBefore(&t.node, &next.node)
		next.waitHead = nil
		next.samePrio.Splice(&t.samePrio)
		next.samePrio.Each(func(f *Thread) bool {
			f.waitHead = next
			return true
		})
	}
	tq.heads.Extract(&t.node)
}

// firstLocked returns the thread dequeue would pick.
func (tq *threadQueue) firstLocked() *Thread { return tq.heads.First() }

// dequeueLocked unblocks and returns the first waiter. With no waiter
// linked, a thread still on its way in is satisfied instead: it is
// returned and will not block.
func (tq *threadQueue) dequeueLocked(k *Kernel) *Thread {
	if t := tq.heads.First(); t != nil {
		tq.removeLocked(t)
		k.unblockLocked(t)
		return t
	}
	if tq.sync == syncNothingHappened {
		if e := k.executing; e != nil && e.wait.queue == tq {
			tq.sync = syncSatisfied
			return e
		}
	}
	return nil
}

// extractLocked removes t from tq and unblocks it. It reports whether t
// was waiting there.
func (tq *threadQueue) extractLocked(k *Kernel, t *Thread) bool {
	if t.wait.queue != tq || t.queuedOn != tq {
		return false
	}
	tq.removeLocked(t)
	k.unblockLocked(t)
	return true
}

// requeueLocked re-sorts t after its priority changed.
func (tq *threadQueue) requeueLocked(t *Thread) {
	if t.queuedOn != tq {
		return
	}
	tq.removeLocked(t)
	tq.insertLocked(t)
}

// flushLocked wakes every waiter with status. fn, when set, sees each
// woken thread. It returns the number woken.
func (tq *threadQueue) flushLocked(k *Kernel, status Status, fn func(*Thread)) int {
	n := 0
	for t := tq.dequeueLocked(k); t != nil; t = tq.dequeueLocked(k) {
		t.wait.status = status
		if fn != nil {
			fn(t)
		}
		n++
	}
	return n
}

func (k *Kernel) unblockLocked(t *Thread) {
	t.wait.queue = nil
	k.wd.RemoveLocked(&t.timer)
	k.clearStateLocked(t, stateBlocked)
}

// extractWithProxyLocked pulls t off whatever queue it is blocked on.
func (k *Kernel) extractWithProxyLocked(t *Thread) bool {
	if tq := t.wait.queue; tq != nil {
		return tq.extractLocked(k, t)
	}
	return false
}

// threadTimeout is the watchdog routine of a blocked thread.
func (k *Kernel) threadTimeout(id uint32, _ any) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)

	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		return
	}
	tq := t.wait.queue
	if tq == nil {
		return
	}
	// Committed to the wait but not linked yet: t.node may still sit in a
	// ready bucket.
	if tq.sync != syncSynchronized && t == k.executing && t.queuedOn != tq {
		if tq.sync != syncSatisfied {
			tq.sync = syncTimeout
			t.wait.status = tq.timeoutStatus
		}
		return
	}
	t.wait.status = tq.timeoutStatus
	k.extractWithProxyLocked(t)
}

// threadWake is the watchdog routine of a sleeping thread.
func (k *Kernel) threadWake(id uint32, _ any) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)

	if t, ok := k.threads.Get(objects.ID(id)); ok {
		k.clearStateLocked(t, StateDelaying)
	}
}
