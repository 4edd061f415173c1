package objects

import (
	"errors"
	"sync"
	"testing"
)

type record struct {
	name string
}

func newPool(t *testing.T, class Class, capacity int) *Pool[record] {
	t.Helper()
	p, err := NewPool[record](class, "records", capacity)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func TestIDLayout(t *testing.T) {
	id := MakeID(3, 0x7ff, 41)
	if id.Class() != 3 || id.Generation() != 0x7ff || id.Index() != 41 {
		t.Fatalf("unexpected decode of %v", id)
	}
	if id.IsNull() {
		t.Fatal("expected non-null id")
	}
	var null ID
	if !null.IsNull() || null.Index() != -1 {
		t.Fatalf("expected null id, got %v", null)
	}
}

func TestAllocateOpenGet(t *testing.T) {
	p := newPool(t, 1, 2)

	r, id, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	r.name = "a"
	if _, ok := p.Get(id); ok {
		t.Fatal("expected unopened record to be unreachable")
	}
	if err := p.Open(id); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, ok := p.Get(id)
	if !ok || got.name != "a" {
		t.Fatalf("expected record a, got %v %v", got, ok)
	}
	if p.InUse() != 1 || p.Capacity() != 2 {
		t.Fatalf("unexpected counters in use=%d cap=%d", p.InUse(), p.Capacity())
	}
}

func TestExhaustion(t *testing.T) {
	p := newPool(t, 1, 2)
	for i := 0; i < 2; i++ {
		if _, _, err := p.Allocate(); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}
	if _, _, err := p.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestStaleHandleAfterReuse(t *testing.T) {
	p := newPool(t, 1, 1)

	_, old, _ := p.Allocate()
	_ = p.Open(old)
	if err := p.Close(old); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := p.Get(old); ok {
		t.Fatal("expected closed record to be unreachable")
	}
	if err := p.Free(old); err != nil {
		t.Fatalf("Free: %v", err)
	}

	r, fresh, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	_ = p.Open(fresh)
	r.name = "fresh"

	if old.Index() != fresh.Index() {
		t.Fatalf("expected slot reuse, got %d and %d", old.Index(), fresh.Index())
	}
	if old == fresh {
		t.Fatal("expected a new generation on reuse")
	}
	if _, ok := p.Get(old); ok {
		t.Fatal("expected stale id to be rejected")
	}
	if err := p.Free(old); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID freeing stale id, got %v", err)
	}
}

func TestWrongClassRejected(t *testing.T) {
	a := newPool(t, 1, 1)
	b := newPool(t, 2, 1)

	_, id, _ := a.Allocate()
	_ = a.Open(id)
	if _, ok := b.Get(id); ok {
		t.Fatal("expected id of another class to be rejected")
	}
	if _, ok := a.Get(MakeID(1, 1, 7)); ok {
		t.Fatal("expected out of range index to be rejected")
	}
}

func TestEachVisitsOpenRecords(t *testing.T) {
	p := newPool(t, 4, 3)
	var ids []ID
	for _, name := range []string{"x", "y", "z"} {
		r, id, _ := p.Allocate()
		r.name = name
		ids = append(ids, id)
	}
	_ = p.Open(ids[0])
	_ = p.Open(ids[2])

	var names []string
	p.Each(func(id ID, r *record) bool {
		names = append(names, r.name)
		return true
	})
	if len(names) != 2 || names[0] != "x" || names[1] != "z" {
		t.Fatalf("expected [x z], got %v", names)
	}
}

func TestGetProtected(t *testing.T) {
	p := newPool(t, 1, 1)
	_, id, _ := p.Allocate()
	_ = p.Open(id)

	var mu sync.Mutex
	if _, ok := p.GetProtected(&mu, id); !ok {
		t.Fatal("expected protected lookup to succeed")
	}
}

func TestCapacityLimits(t *testing.T) {
	if _, err := NewPool[record](1, "big", MaxCapacity+1); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if _, err := NewPool[record](0, "untagged", 1); err == nil {
		t.Fatal("expected class 0 to be rejected")
	}
}

func TestGenerationPeriod(t *testing.T) {
	p := newPool(t, 3, 1)
	cycle := func() ID {
		_, id, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		_ = p.Open(id)
		_ = p.Close(id)
		if err := p.Free(id); err != nil {
			t.Fatalf("Free: %v", err)
		}
		return id
	}

	first := cycle()
	seen := map[ID]bool{first: true}
	for i := 1; i < GenerationPeriod; i++ {
		id := cycle()
		if seen[id] {
			t.Fatalf("id %s repeated after %d reuses", id, i)
		}
		seen[id] = true
	}
	if id := cycle(); id != first {
		t.Fatalf("expected %s to come back after %d reuses, got %s", first, GenerationPeriod, id)
	}
}
