package kernel

// Scheduler state is guarded by the interrupt mask. Functions with the
// Locked suffix expect the caller to hold it.

// setStateLocked adds state bits to t, taking it off the ready set if it
// was ready.
func (k *Kernel) setStateLocked(t *Thread, s ThreadState) {
	if t.state != StateReady {
		t.state |= s
		return
	}
	t.state = s
	k.ready.extract(t)
	if t == k.heir {
		k.heir = k.ready.highest()
	}
	if t == k.executing {
		k.dispatchNeeded = true
	}
}

// clearStateLocked removes state bits from t and makes it ready once no
// bit is left.
func (k *Kernel) clearStateLocked(t *Thread, s ThreadState) {
	if t.state&s == 0 {
		return
	}
	t.state &^= s
	if t.state != StateReady {
		return
	}
	k.ready.enqueue(t)
	if k.heir == nil || t.current < k.heir.current {
		k.heir = t
		if k.executing != nil && (k.executing.preemptible || t.current == PriorityHighest) {
			k.dispatchNeeded = true
		}
	}
}

// changePriorityLocked sets the current priority of t. A ready thread is
// moved to the head of its new bucket when prepend is set and to the tail
// otherwise; a thread blocked on a priority queue is requeued.
func (k *Kernel) changePriorityLocked(t *Thread, p Priority, prepend bool) {
	if t.current == p {
		return
	}
	wasReady := t.state == StateReady
	if wasReady {
		t.state = StateTransient
		k.ready.extract(t)
	}
	t.current = p
	if tq := t.wait.queue; tq != nil && tq.discipline == DisciplinePriority {
		tq.requeueLocked(t)
	}
	if !wasReady {
		return
	}
	t.state = StateReady
	if prepend {
		k.ready.enqueueFirst(t)
	} else {
		k.ready.enqueue(t)
	}
	k.heir = k.ready.highest()
	if e := k.executing; e != nil && e != k.heir && (e.preemptible || e.state != StateReady) {
		k.dispatchNeeded = true
	}
}

// yieldLocked rotates t behind its equal-priority peers.
func (k *Kernel) yieldLocked(t *Thread) {
	if t.state != StateReady {
		return
	}
	if k.ready.rotate(t) {
		if k.heir == t {
			k.heir = k.ready.first(t.readyAt)
		}
		k.dispatchNeeded = true
	} else if k.heir != t {
		k.dispatchNeeded = true
	}
}

// tickleTimesliceLocked charges one tick to the executing thread.
func (k *Kernel) tickleTimesliceLocked() {
	t := k.executing
	if t == nil {
		return
	}
	t.cpuTicks++
	if !t.preemptible || t.state != StateReady || t.budget != BudgetTimeslice {
		return
	}
	if t.budgetLeft > 0 {
		t.budgetLeft--
	}
	if t.budgetLeft == 0 {
		k.yieldLocked(t)
		t.budgetLeft = k.cfg.TimesliceTicks
	}
}

func (k *Kernel) disableDispatch() {
	lvl := k.mask.Disable()
	k.dispatchDisable++
	k.mask.Enable(lvl)
}

// enableDispatch drops one level of dispatch disabling and switches to the
// heir when the last level goes away.
func (k *Kernel) enableDispatch(self *Thread) {
	lvl := k.mask.Disable()
	if k.dispatchDisable > 0 {
		k.dispatchDisable--
	}
	n := k.dispatchDisable
	k.mask.Enable(lvl)
	if n == 0 {
		k.dispatch(self)
	}
}

// dispatch hands the CPU to the heir while a switch is pending. It returns
// once self is executing again.
func (k *Kernel) dispatch(self *Thread) {
	lvl := k.mask.Disable()
	for k.dispatchNeeded && k.dispatchDisable == 0 {
		k.dispatchNeeded = false
		heir := k.heir
		if heir == nil || heir == self {
			continue
		}
		if heir.budget == BudgetTimeslice {
			heir.budgetLeft = k.cfg.TimesliceTicks
		}
		k.executing = heir
		k.switches++
		k.mask.Enable(lvl)

		heir.resume <- struct{}{}
		<-self.resume

		lvl = k.mask.Disable()
	}
	k.mask.Enable(lvl)
}
