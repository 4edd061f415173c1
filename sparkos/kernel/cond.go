package kernel

import "sparkrt/sparkos/internal/objects"

// Cond is a condition variable. It binds to the mutex of its first waiter
// and unbinds when the last waiter leaves.
type Cond struct {
	id    CondID
	name  string
	mutex MutexID
	wq    threadQueue
}

// CondInfo is a snapshot of a condition variable.
type CondInfo struct {
	ID      CondID
	Name    string
	Mutex   MutexID
	Waiters int
}

// CondCreate creates a condition variable.
func (k *Kernel) CondCreate(name string) (CondID, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)

	c, oid, err := k.conds.Allocate()
	if err != nil {
		return 0, ErrTooMany
	}
	c.id = CondID(oid)
	c.name = name
	c.wq.init(DisciplinePriority, StateWaitingCond, StatusTimeout)
	_ = k.conds.Open(oid)
	return c.id, nil
}

func (c *Cond) unbindIfIdleLocked() {
	if c.wq.len() == 0 {
		c.mutex = 0
	}
}

func (k *Kernel) condSignalLocked(id CondID, all bool) (int, Status) {
	c, ok := k.conds.Get(objects.ID(id))
	if !ok {
		return 0, StatusInvalidID
	}
	n := 0
	for t := c.wq.dequeueLocked(k); t != nil; t = c.wq.dequeueLocked(k) {
		n++
		if !all {
			break
		}
	}
	c.unbindIfIdleLocked()
	return n, StatusSuccessful
}

// CondSignal wakes the most important waiter.
func (k *Kernel) CondSignal(id CondID) error {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	_, st := k.condSignalLocked(id, false)
	return st.Err()
}

// CondBroadcast wakes every waiter and returns how many there were.
func (k *Kernel) CondBroadcast(id CondID) (int, error) {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	n, st := k.condSignalLocked(id, true)
	return n, st.Err()
}

// CondFlush wakes every waiter with ErrObjectWasDeleted and returns how
// many there were. Each waiter still takes its mutex back before it
// returns.
func (k *Kernel) CondFlush(id CondID) (int, error) {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	c, ok := k.conds.Get(objects.ID(id))
	if !ok {
		return 0, ErrInvalidID
	}
	n := c.wq.flushLocked(k, StatusObjectWasDeleted, nil)
	c.unbindIfIdleLocked()
	return n, nil
}

// CondDestroy deletes a condition variable that has no waiters. CondFlush
// clears a busy one first.
func (k *Kernel) CondDestroy(id CondID) error {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	c, ok := k.conds.Get(objects.ID(id))
	if !ok {
		return ErrInvalidID
	}
	if c.wq.len() > 0 {
		return ErrBusy
	}
	_ = k.conds.Close(objects.ID(id))
	_ = k.conds.Free(objects.ID(id))
	return nil
}

// CondInfo returns a snapshot of a condition variable.
func (k *Kernel) CondInfo(id CondID) (CondInfo, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	c, ok := k.conds.Get(objects.ID(id))
	if !ok {
		return CondInfo{}, ErrInvalidID
	}
	return CondInfo{ID: c.id, Name: c.name, Mutex: c.mutex, Waiters: c.wq.len()}, nil
}

// Conds returns a snapshot of every condition variable.
func (k *Kernel) Conds() []CondInfo {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	var out []CondInfo
	k.conds.Each(func(_ objects.ID, c *Cond) bool {
		out = append(out, CondInfo{ID: c.id, Name: c.name, Mutex: c.mutex, Waiters: c.wq.len()})
		return true
	})
	return out
}
