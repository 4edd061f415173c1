// Package watchdog keeps the sorted list of pending timers and fires them
// from the clock tick.
package watchdog

import (
	"sparkrt/sparkos/internal/chain"
	"sparkrt/sparkos/internal/isr"
)

// State is the lifecycle state of a Timer.
type State uint8

const (
	Inactive State = iota
	BeingInserted
	Active
	RemoveIt
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case BeingInserted:
		return "being-inserted"
	case Active:
		return "active"
	case RemoveIt:
		return "remove-it"
	default:
		return "unknown"
	}
}

// Mode selects how Insert interprets its interval.
type Mode uint8

const (
	Relative Mode = iota
	Absolute
)

// Routine is called when a timer fires. It runs in interrupt context with
// the mask released.
type Routine func(id uint32, arg any)

// Timer is a list entry. The zero value is inactive.
type Timer struct {
	node    chain.Node[Timer]
	state   State
	fireAt  Ticks
	routine Routine
	id      uint32
	arg     any
}

// Init sets the routine called on expiry. The timer must be inactive.
func (t *Timer) Init(routine Routine, id uint32, arg any) {
	t.node.Init(t)
	t.routine = routine
	t.id = id
	t.arg = arg
}

// State returns the current state. Callers outside the list read it with
// the mask held.
func (t *Timer) State() State { return t.state }

// FireAt returns the absolute deadline of the last insertion.
func (t *Timer) FireAt() Ticks { return t.fireAt }

// Countdown is the hardware timer the list programs with its earliest
// deadline. Arm is called with the mask held.
type Countdown interface {
	Arm(at Ticks)
}

// List is the set of pending timers ordered by deadline.
type List struct {
	mask      *isr.Mask
	q         chain.Queue[Timer]
	now       Ticks
	mutations uint64
	countdown Countdown
	armed     Ticks
	// firing is the timer whose routine is running.
	firing    *Timer
}

// NewList returns an empty list guarded by mask. cd may be nil.
func NewList(mask *isr.Mask, cd Countdown) *List {
	return &List{mask: mask, countdown: cd}
}

// Now returns the current tick count.
func (l *List) Now() Ticks {
	lvl := l.mask.Disable()
	defer l.mask.Enable(lvl)
	return l.now
}

// NowLocked is Now for callers that hold the mask.
func (l *List) NowLocked() Ticks { return l.now }

// Len returns the number of linked timers. The mask must be held.
func (l *List) Len() int { return l.q.Len() }

// Insert schedules t. A timer that is not inactive is left untouched. The
// caller must not hold the mask: the walk flashes it at every step.
func (l *List) Insert(t *Timer, interval Ticks, mode Mode) {
	lvl := l.mask.Disable()
	if t.state != Inactive {
		l.mask.Enable(lvl)
		return
	}
	if t.node.Owner() == nil {
		t.node.Init(t)
	}
	t.state = BeingInserted

	fire := interval
	if mode == Relative {
		fire = l.now + interval
	}
	t.fireAt = fire

walk:
	for {
		seen := l.mutations
		var after *chain.Node[Timer]
		for n := l.q.FirstNode(); n != nil; n = l.q.Next(n) {
			if n.Owner().fireAt > fire {
				break
			}
			after = n
			lvl = l.mask.Flash(lvl)
			if t.state != BeingInserted {
				// Removed while the window was open.
				l.mask.Enable(lvl)
				return
			}
			if l.mutations != seen {
				continue walk
			}
		}
		l.q.InsertAfter(after, &t.node)
		break
	}
	t.state = Active
	l.mutations++
	if l.q.FirstNode() == &t.node {
		l.arm()
	}
	l.mask.Enable(lvl)
}

// InsertLocked is Insert for callers that hold the mask. The walk runs
// without opening the window, so it suits short lists and routines that
// re-arm themselves.
func (l *List) InsertLocked(t *Timer, interval Ticks, mode Mode) {
	if t.state != Inactive {
		return
	}
	if t.node.Owner() == nil {
		t.node.Init(t)
	}
	fire := interval
	if mode == Relative {
		fire = l.now + interval
	}
	t.fireAt = fire

	var after *chain.Node[Timer]
	for n := l.q.FirstNode(); n != nil; n = l.q.Next(n) {
		if n.Owner().fireAt > fire {
			break
		}
		after = n
	}
	l.q.InsertAfter(after, &t.node)
	t.state = Active
	l.mutations++
	if l.q.FirstNode() == &t.node {
		l.arm()
	}
}

// Remove cancels t and returns the state it was in.
func (l *List) Remove(t *Timer) State {
	lvl := l.mask.Disable()
	defer l.mask.Enable(lvl)
	return l.RemoveLocked(t)
}

// RemoveLocked is Remove for callers that hold the mask. A timer whose
// routine has been dispatched but not yet returned reports RemoveIt; the
// routine itself is not stopped.
func (l *List) RemoveLocked(t *Timer) State {
	prev := t.state
	switch prev {
	case Inactive:
		if l.firing == t {
			prev = RemoveIt
		}
	case BeingInserted:
		t.state = Inactive
	case Active, RemoveIt:
		wasHead := l.q.FirstNode() == &t.node
		t.state = Inactive
		l.q.Extract(&t.node)
		l.mutations++
		if wasHead {
			l.arm()
		}
	}
	return prev
}

// Reset removes t and inserts it again with a fresh interval.
func (l *List) Reset(t *Timer, interval Ticks, mode Mode) {
	l.Remove(t)
	l.Insert(t, interval, mode)
}

// Remaining returns the ticks left before t fires, or 0 if it is not pending.
func (l *List) Remaining(t *Timer) Ticks {
	lvl := l.mask.Disable()
	defer l.mask.Enable(lvl)
	if t.state != Active || t.fireAt <= l.now {
		return 0
	}
	return t.fireAt - l.now
}

// Tick advances the clock by one tick and fires every due timer.
func (l *List) Tick() int {
	lvl := l.mask.Disable()
	now := l.now + 1
	l.mask.Enable(lvl)
	return l.AdvanceTo(now)
}

// AdvanceTo moves the clock to now and fires every timer whose deadline
// has passed, in deadline order. Routines run with the mask released; the
// clock never moves backwards.
func (l *List) AdvanceTo(now Ticks) int {
	lvl := l.mask.Disable()
	if now > l.now {
		l.now = now
	}
	for n := l.q.FirstNode(); n != nil; n = l.q.Next(n) {
		if n.Owner().fireAt > l.now {
			break
		}
		n.Owner().state = RemoveIt
	}

	fired := 0
	for {
		n := l.q.FirstNode()
		if n == nil || n.Owner().fireAt > l.now {
			break
		}
		t := n.Owner()
		l.q.Extract(n)
		t.state = Inactive
		l.mutations++
		l.firing = t
		routine, id, arg := t.routine, t.id, t.arg
		l.mask.Enable(lvl)

		if routine != nil {
			routine(id, arg)
		}
		fired++

		lvl = l.mask.Disable()
		l.firing = nil
	}
	l.arm()
	l.mask.Enable(lvl)
	return fired
}

// Armed returns the deadline last handed to the countdown.
func (l *List) Armed() Ticks {
	lvl := l.mask.Disable()
	defer l.mask.Enable(lvl)
	return l.armed
}

func (l *List) arm() {
	n := l.q.FirstNode()
	if n == nil {
		l.armed = 0
		return
	}
	at := n.Owner().fireAt
	if at == l.armed {
		return
	}
	l.armed = at
	if l.countdown != nil {
		l.countdown.Arm(at)
	}
}
