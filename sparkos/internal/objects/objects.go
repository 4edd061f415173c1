// Package objects is the kernel object manager: fixed capacity pools of
// records addressed by generation-checked IDs.
package objects

import (
	"errors"
	"fmt"
	"sync"

	"sparkrt/sparkos/internal/chain"
)

var (
	// ErrExhausted is returned by Allocate when every slot is in use.
	ErrExhausted = errors.New("objects: pool exhausted")
	// ErrInvalidID is returned for IDs that do not name a live record.
	ErrInvalidID = errors.New("objects: invalid id")
	// ErrCapacity is returned by NewPool for capacities the ID layout cannot address.
	ErrCapacity = errors.New("objects: invalid capacity")
)

// Class tags the kind of record an ID names. Zero is never a valid class.
type Class uint8

// ID layout: class in bits 28..31, generation in bits 16..27, index+1 in
// bits 0..15. The zero ID is null.
//
// The generation skips zero, so a slot cycles through GenerationPeriod
// IDs. A handle kept while its slot is reused that many times names the
// slot again.
type ID uint32

const (
	indexBits  = 16
	genBits    = 12
	classShift = indexBits + genBits

	indexMask = 1<<indexBits - 1
	genMask   = 1<<genBits - 1

	// MaxCapacity is the largest pool an ID can address.
	MaxCapacity = indexMask - 1
	// GenerationPeriod is the number of reuses after which a slot's ID
	// repeats.
	GenerationPeriod = genMask
	// MaxClass is the largest class tag.
	MaxClass Class = 15
)

// MakeID packs an ID.
func MakeID(class Class, gen uint16, index int) ID {
	return ID(uint32(class)<<classShift | uint32(gen&genMask)<<indexBits | uint32(index+1)&indexMask)
}

// IsNull reports whether id is the null ID.
func (id ID) IsNull() bool { return id == 0 }

// Class returns the class tag.
func (id ID) Class() Class { return Class(id >> classShift) }

// Generation returns the generation counter.
func (id ID) Generation() uint16 { return uint16(id>>indexBits) & genMask }

// Index returns the slot index, or -1 for the null ID.
func (id ID) Index() int { return int(id&indexMask) - 1 }

func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%d.%d.%d", id.Class(), id.Index(), id.Generation())
}

type slot[T any] struct {
	node      chain.Node[slot[T]]
	index     int
	gen       uint16
	allocated bool
	open      bool
	value     T
}

// Pool is a fixed capacity arena of T records.
//
// Pool methods are not synchronized. The kernel calls them with the
// interrupt mask held, or uses GetProtected.
type Pool[T any] struct {
	class Class
	name  string
	slots []slot[T]
	free  chain.Queue[slot[T]]
	inUse int
}

// NewPool returns a pool of capacity records tagged with class.
func NewPool[T any](class Class, name string, capacity int) (*Pool[T], error) {
	if capacity < 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%s: %w: %d", name, ErrCapacity, capacity)
	}
	if class == 0 || class > MaxClass {
		return nil, fmt.Errorf("%s: invalid class %d", name, class)
	}
	p := &Pool[T]{
		class: class,
		name:  name,
		slots: make([]slot[T], capacity),
	}
	p.free.InitFromArray(p.slots, func(s *slot[T]) *chain.Node[slot[T]] { return &s.node })
	for i := range p.slots {
		p.slots[i].index = i
		p.slots[i].gen = 1
	}
	return p, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string { return p.name }

// Capacity returns the number of slots.
func (p *Pool[T]) Capacity() int { return len(p.slots) }

// InUse returns the number of allocated slots.
func (p *Pool[T]) InUse() int { return p.inUse }

// Allocate takes a free slot and returns its zeroed record and ID. The
// record is not visible to Get until Open is called.
func (p *Pool[T]) Allocate() (*T, ID, error) {
	s := p.free.Get()
	if s == nil {
		return nil, 0, ErrExhausted
	}
	var zero T
	s.value = zero
	s.allocated = true
	s.open = false
	p.inUse++
	return &s.value, MakeID(p.class, s.gen, s.index), nil
}

// Open makes an allocated record reachable through its ID.
func (p *Pool[T]) Open(id ID) error {
	s, ok := p.slot(id)
	if !ok || !s.allocated {
		return ErrInvalidID
	}
	s.open = true
	return nil
}

// Close makes the record unreachable. The slot is not reused until Free.
func (p *Pool[T]) Close(id ID) error {
	s, ok := p.slot(id)
	if !ok || !s.open {
		return ErrInvalidID
	}
	s.open = false
	return nil
}

// Free returns the slot to the free queue and bumps its generation so that
// outstanding IDs become stale. An open record is closed first.
func (p *Pool[T]) Free(id ID) error {
	s, ok := p.slot(id)
	if !ok || !s.allocated {
		return ErrInvalidID
	}
	s.open = false
	s.allocated = false
	s.gen = (s.gen + 1) & genMask
	if s.gen == 0 {
		s.gen = 1
	}
	p.inUse--
	p.free.Append(&s.node)
	return nil
}

// Get resolves an ID to its open record.
func (p *Pool[T]) Get(id ID) (*T, bool) {
	s, ok := p.slot(id)
	if !ok || !s.open {
		return nil, false
	}
	return &s.value, true
}

// GetProtected is Get performed while holding l.
func (p *Pool[T]) GetProtected(l sync.Locker, id ID) (*T, bool) {
	l.Lock()
	defer l.Unlock()
	return p.Get(id)
}

// Each calls fn for every open record in index order until fn returns false.
func (p *Pool[T]) Each(fn func(ID, *T) bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.open {
			continue
		}
		if !fn(MakeID(p.class, s.gen, i), &s.value) {
			return
		}
	}
}

func (p *Pool[T]) slot(id ID) (*slot[T], bool) {
	if id.IsNull() || id.Class() != p.class {
		return nil, false
	}
	i := id.Index()
	if i < 0 || i >= len(p.slots) {
		return nil, false
	}
	s := &p.slots[i]
	if s.gen != id.Generation() {
		return nil, false
	}
	return s, true
}
