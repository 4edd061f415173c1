// Package workspace implements the kernel workspace: a fixed arena from
// which thread stacks and message buffers are carved.
package workspace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Align is the allocation granularity in bytes.
const Align = 8

var (
	// ErrNoMemory is returned when no free block is large enough.
	ErrNoMemory = errors.New("workspace: out of memory")
	// ErrInvalidSize is returned for non-positive requests.
	ErrInvalidSize = errors.New("workspace: invalid size")
	// ErrInvalidBlock is returned when freeing a block the heap did not hand out.
	ErrInvalidBlock = errors.New("workspace: invalid block")
)

// Block is an allocated region of the arena.
type Block struct {
	off  int
	size int
	mem  []byte
}

// Bytes returns the block memory.
func (b Block) Bytes() []byte { return b.mem }

// Size returns the usable size, rounded up to Align.
func (b Block) Size() int { return b.size }

// Offset returns the position of the block inside the arena.
func (b Block) Offset() int { return b.off }

// IsZero reports whether b is the zero Block.
func (b Block) IsZero() bool { return b.mem == nil }

type span struct {
	off, size int
}

// Stats describes heap usage.
type Stats struct {
	Size         int
	Used         int
	Free         int
	LargestFree  int
	Blocks       int
	Allocations  uint64
	Failures     uint64
	FreeSegments int
}

// Heap is a first-fit allocator over an address-ordered free list.
type Heap struct {
	lock  sync.Locker
	mem   []byte
	free  []span
	used  map[int]int
	stats Stats
}

// New returns a heap managing size bytes. lock guards every operation;
// the kernel passes its interrupt mask.
func New(size int, lock sync.Locker) (*Heap, error) {
	if size < Align {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	size &^= Align - 1
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Heap{
		lock: lock,
		mem:  make([]byte, size),
		free: []span{{off: 0, size: size}},
		used: make(map[int]int),
	}, nil
}

// Allocate returns a zeroed block of at least n bytes.
func (h *Heap) Allocate(n int) (Block, error) {
	if n <= 0 {
		return Block{}, ErrInvalidSize
	}
	need := (n + Align - 1) &^ (Align - 1)

	h.lock.Lock()
	defer h.lock.Unlock()

	for i := range h.free {
		s := &h.free[i]
		if s.size < need {
			continue
		}
		off := s.off
		if s.size == need {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			s.off += need
			s.size -= need
		}
		h.used[off] = need
		h.stats.Allocations++
		mem := h.mem[off : off+need : off+need]
		clear(mem)
		return Block{off: off, size: need, mem: mem}, nil
	}
	h.stats.Failures++
	return Block{}, fmt.Errorf("%w: want %d bytes", ErrNoMemory, need)
}

// Free returns b to the heap, merging it with adjacent free space.
func (h *Heap) Free(b Block) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	size, ok := h.used[b.off]
	if !ok || size != b.size || b.mem == nil {
		return ErrInvalidBlock
	}
	delete(h.used, b.off)

	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].off > b.off })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = span{off: b.off, size: size}

	if i+1 < len(h.free) && h.free[i].off+h.free[i].size == h.free[i+1].off {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].off+h.free[i-1].size == h.free[i].off {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
	return nil
}

// Stats returns a usage snapshot.
func (h *Heap) Stats() Stats {
	h.lock.Lock()
	defer h.lock.Unlock()

	st := h.stats
	st.Size = len(h.mem)
	st.Blocks = len(h.used)
	st.FreeSegments = len(h.free)
	for _, s := range h.free {
		st.Free += s.size
		if s.size > st.LargestFree {
			st.LargestFree = s.size
		}
	}
	st.Used = st.Size - st.Free
	return st
}
