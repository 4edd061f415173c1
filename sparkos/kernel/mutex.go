package kernel

import "sparkrt/sparkos/internal/objects"

// MutexProtocol selects how waiters are ordered and whether the holder's
// priority is adjusted.
type MutexProtocol uint8

const (
	MutexFIFO MutexProtocol = iota
	MutexPriority
	// MutexInherit raises the holder to the priority of its most
	// important waiter.
	MutexInherit
	// MutexCeiling raises the holder to the mutex ceiling while held.
	MutexCeiling
)

func (p MutexProtocol) String() string {
	switch p {
	case MutexFIFO:
		return "fifo"
	case MutexPriority:
		return "priority"
	case MutexInherit:
		return "inherit"
	case MutexCeiling:
		return "ceiling"
	default:
		return "unknown"
	}
}

// NestingPolicy selects what happens when the holder locks again.
type NestingPolicy uint8

const (
	NestingAcquire NestingPolicy = iota
	NestingError
	NestingBlock
)

// MutexAttr describes a mutex to create.
type MutexAttr struct {
	Name     string
	Protocol MutexProtocol
	Nesting  NestingPolicy
	// OnlyOwnerRelease rejects unlocks from threads other than the holder.
	OnlyOwnerRelease bool
	Ceiling          Priority
}

// Mutex is a kernel mutex.
type Mutex struct {
	id     MutexID
	attr   MutexAttr
	locked bool
	nest   uint32
	holder *Thread
	wq     threadQueue
}

func (m *Mutex) adjustsPriority() bool {
	return m.attr.Protocol == MutexInherit || m.attr.Protocol == MutexCeiling
}

// MutexInfo is a snapshot of a mutex.
type MutexInfo struct {
	ID       MutexID
	Name     string
	Protocol MutexProtocol
	Ceiling  Priority
	Locked   bool
	Holder   ThreadID
	Nest     uint32
	Waiters  int
}

func (m *Mutex) infoLocked() MutexInfo {
	info := MutexInfo{
		ID:       m.id,
		Name:     m.attr.Name,
		Protocol: m.attr.Protocol,
		Ceiling:  m.attr.Ceiling,
		Locked:   m.locked,
		Nest:     m.nest,
		Waiters:  m.wq.len(),
	}
	if m.holder != nil {
		info.Holder = m.holder.id
	}
	return info
}

// MutexCreate creates an unlocked mutex.
func (k *Kernel) MutexCreate(attr MutexAttr) (MutexID, error) {
	if attr.Protocol > MutexCeiling || attr.Nesting > NestingBlock {
		return 0, ErrInvalidArgument
	}
	if attr.Protocol == MutexCeiling && attr.Ceiling > PriorityLowest {
		return 0, ErrInvalidPriority
	}

	lvl := k.mask.Disable()
	m, oid, err := k.mutexes.Allocate()
	if err != nil {
		k.mask.Enable(lvl)
		return 0, ErrTooMany
	}
	m.id = MutexID(oid)
	m.attr = attr
	d := DisciplinePriority
	if attr.Protocol == MutexFIFO {
		d = DisciplineFIFO
	}
	m.wq.init(d, StateWaitingMutex, StatusTimeout)
	_ = k.mutexes.Open(oid)
	k.mask.Enable(lvl)

	k.log.Debugf("mutex %s %q created protocol=%s", m.id, attr.Name, attr.Protocol)
	return MutexID(oid), nil
}

// mutexSeizeLocked takes m for t if it can. block is set when t has to
// wait for the holder.
func (k *Kernel) mutexSeizeLocked(m *Mutex, t *Thread) (st Status, block bool) {
	if !m.locked {
		m.locked = true
		m.holder = t
		m.nest = 1
		if m.adjustsPriority() {
			t.resourceCount++
		}
		if m.attr.Protocol == MutexCeiling {
			switch {
			case t.current < m.attr.Ceiling:
				m.locked = false
				m.holder = nil
				m.nest = 0
				t.resourceCount--
				return StatusCeilingViolated, false
			case t.current > m.attr.Ceiling:
				k.changePriorityLocked(t, m.attr.Ceiling, false)
			}
		}
		return StatusSuccessful, false
	}
	if m.holder == t {
		switch m.attr.Nesting {
		case NestingAcquire:
			m.nest++
			return StatusSuccessful, false
		case NestingError:
			return StatusNestingNotAllowed, false
		}
	}
	return StatusUnsatisfied, true
}

// mutexSurrenderLocked releases one level of m on behalf of t and hands
// the mutex to the next waiter on full release.
func (k *Kernel) mutexSurrenderLocked(m *Mutex, t *Thread) Status {
	if !m.locked {
		return StatusNotOwnerOfResource
	}
	holder := m.holder
	if m.attr.OnlyOwnerRelease && holder != t {
		return StatusNotOwnerOfResource
	}
	m.nest--
	if m.nest > 0 {
		return StatusSuccessful
	}

	if m.adjustsPriority() {
		holder.resourceCount--
		if holder.resourceCount == 0 && holder.real != holder.current {
			k.changePriorityLocked(holder, holder.real, true)
		}
	}
	m.locked = false
	m.holder = nil

	if next := m.wq.dequeueLocked(k); next != nil {
		m.locked = true
		m.holder = next
		m.nest = 1
		if m.adjustsPriority() {
			next.resourceCount++
		}
		if m.attr.Protocol == MutexCeiling && next.current > m.attr.Ceiling {
			k.changePriorityLocked(next, m.attr.Ceiling, false)
		}
	}
	return StatusSuccessful
}

// MutexFlush wakes every waiter with ErrObjectWasDeleted. The holder keeps
// the mutex.
func (k *Kernel) MutexFlush(id MutexID) (int, error) {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	m, ok := k.mutexes.Get(objects.ID(id))
	if !ok {
		return 0, ErrInvalidID
	}
	return m.wq.flushLocked(k, StatusObjectWasDeleted, nil), nil
}

// MutexDestroy deletes a mutex. It fails with ErrBusy while threads are
// waiting; a locked mutex without waiters may be destroyed.
func (k *Kernel) MutexDestroy(id MutexID) error {
	lvl := k.mask.Disable()
	m, ok := k.mutexes.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		return ErrInvalidID
	}
	if m.wq.len() > 0 {
		k.mask.Enable(lvl)
		return ErrBusy
	}
	if m.locked && m.adjustsPriority() {
		h := m.holder
		h.resourceCount--
		if h.resourceCount == 0 && h.real != h.current {
			k.changePriorityLocked(h, h.real, true)
		}
	}
	_ = k.mutexes.Close(objects.ID(id))
	_ = k.mutexes.Free(objects.ID(id))
	k.leaveISR(lvl)

	k.log.Debugf("mutex %s destroyed", id)
	return nil
}

// MutexInfo returns a snapshot of a mutex.
func (k *Kernel) MutexInfo(id MutexID) (MutexInfo, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	m, ok := k.mutexes.Get(objects.ID(id))
	if !ok {
		return MutexInfo{}, ErrInvalidID
	}
	return m.infoLocked(), nil
}

// Mutexes returns a snapshot of every mutex.
func (k *Kernel) Mutexes() []MutexInfo {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	var out []MutexInfo
	k.mutexes.Each(func(_ objects.ID, m *Mutex) bool {
		out = append(out, m.infoLocked())
		return true
	})
	return out
}
