package kernel

import (
	"errors"
	"testing"
)

func TestMutexNestingPolicies(t *testing.T) {
	r := newRig(t, Config{})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		acq, _ := k.MutexCreate(MutexAttr{Name: "acquire", Nesting: NestingAcquire})
		_ = c.MutexLock(acq, true, NoTimeout)
		_ = c.MutexLock(acq, true, NoTimeout)
		info, _ := k.MutexInfo(acq)
		rec.add("acquire nest=%d", info.Nest)
		_ = c.MutexUnlock(acq)
		_ = c.MutexUnlock(acq)
		info, _ = k.MutexInfo(acq)
		rec.add("acquire locked=%v", info.Locked)

		nerr, _ := k.MutexCreate(MutexAttr{Name: "error", Nesting: NestingError})
		_ = c.MutexLock(nerr, true, NoTimeout)
		err := c.MutexLock(nerr, true, NoTimeout)
		rec.add("error: %v", errors.Is(err, ErrNestingNotAllowed))

		blk, _ := k.MutexCreate(MutexAttr{Name: "block", Nesting: NestingBlock})
		_ = c.MutexLock(blk, true, NoTimeout)
		err = c.MutexTryLock(blk)
		rec.add("block: %v", errors.Is(err, ErrUnsatisfiedNoWait))

		err = c.MutexUnlock(acq)
		rec.add("unlock free: %v", errors.Is(err, ErrNotOwnerOfResource))
	})
	expectEvents(t, rec,
		"acquire nest=2",
		"acquire locked=false",
		"error: true",
		"block: true",
		"unlock free: true",
	)
}

func TestMutexOwnerRelease(t *testing.T) {
	for _, tc := range []struct {
		name       string
		ownerOnly  bool
		want       string
		wantLocked string
	}{
		{"owner-only", true, "other unlock: kernel: NotOwnerOfResource", "locked=true"},
		{"any", false, "other unlock: <nil>", "locked=false"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, Config{InitPriority: 10})
			rec := &recorder{}
			r.boot(func(c *Context) {
				m, _ := c.MutexCreate(MutexAttr{Name: tc.name, OnlyOwnerRelease: tc.ownerOnly}, true)
				other := mustThread(c, rec, ThreadAttr{Name: "other", Priority: 50, Entry: func(c *Context, _ any) any {
					rec.add("other unlock: %v", c.MutexUnlock(m))
					return nil
				}})
				_, _ = c.ThreadJoin(other, NoTimeout)
				info, _ := c.Kernel().MutexInfo(m)
				rec.add("locked=%v", info.Locked)
			})
			expectEvents(t, rec, tc.want, tc.wantLocked)
		})
	}
}

func TestMutexCeiling(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		m, err := k.MutexCreate(MutexAttr{Name: "ceil", Protocol: MutexCeiling, Ceiling: 20})
		if err != nil {
			rec.add("create: %v", err)
			return
		}
		err = c.MutexLock(m, true, NoTimeout)
		rec.add("too important: %v", errors.Is(err, ErrCeilingViolated))

		_, _ = c.ThreadSetPriority(c.Self(), 50)
		_ = c.MutexLock(m, true, NoTimeout)
		info, _ := k.ThreadInfo(c.Self())
		rec.add("held at %d", info.Priority)
		_ = c.MutexUnlock(m)
		info, _ = k.ThreadInfo(c.Self())
		rec.add("released at %d", info.Priority)
	})
	expectEvents(t, rec, "too important: true", "held at 20", "released at 50")

	if _, err := r.k.MutexCreate(MutexAttr{Protocol: MutexCeiling, Ceiling: PriorityIdle}); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority for an idle ceiling, got %v", err)
	}
}

func TestMutexLockTimeout(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	var m MutexID
	r.boot(func(c *Context) {
		m, _ = c.MutexCreate(MutexAttr{Name: "held", Protocol: MutexInherit}, true)
		mustThread(c, rec, ThreadAttr{Name: "w", Priority: 50, Entry: func(c *Context, _ any) any {
			err := c.MutexLock(m, true, 3)
			rec.add("w: %v at %d", errors.Is(err, ErrTimeout), c.Now())
			return nil
		}})
		_ = c.Sleep(10)
	})
	r.tick(3)
	expectEvents(t, rec, "w: true at 3")

	info, err := r.k.MutexInfo(m)
	if err != nil {
		t.Fatalf("MutexInfo: %v", err)
	}
	if info.Waiters != 0 || !info.Locked {
		t.Fatalf("expected held mutex without waiters, got %+v", info)
	}
}

func TestInheritanceRestoresAfterLastResource(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	var holder ThreadID
	r.boot(func(c *Context) {
		k := c.Kernel()
		a, _ := k.MutexCreate(MutexAttr{Name: "a", Protocol: MutexInherit})
		b, _ := k.MutexCreate(MutexAttr{Name: "b", Protocol: MutexInherit})
		holder = mustThread(c, rec, ThreadAttr{Name: "holder", Priority: 200, Entry: func(c *Context, _ any) any {
			_ = c.MutexLock(a, true, NoTimeout)
			_ = c.MutexLock(b, true, NoTimeout)
			_ = c.Sleep(2)
			_ = c.MutexUnlock(a)
			info, _ := c.Kernel().ThreadInfo(c.Self())
			rec.add("after a: %d", info.Priority)
			_ = c.MutexUnlock(b)
			info, _ = c.Kernel().ThreadInfo(c.Self())
			rec.add("after b: %d", info.Priority)
			return nil
		}})
		_ = c.Sleep(1)
		mustThread(c, rec, ThreadAttr{Name: "waiter", Priority: 40, Entry: func(c *Context, _ any) any {
			_ = c.MutexLock(a, true, NoTimeout)
			rec.add("waiter got a")
			_ = c.MutexUnlock(a)
			return nil
		}})
	})
	r.tick(1)
	if info, _ := r.k.ThreadInfo(holder); info.Priority != 40 {
		t.Fatalf("expected holder boosted to 40, got %d", info.Priority)
	}
	r.tick(1)
	expectEvents(t, rec, "after a: 40", "waiter got a", "after b: 200")
}

func TestExitingHolderHandsMutexOn(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		m, _ := k.MutexCreate(MutexAttr{Name: "m", Protocol: MutexInherit})
		spare, _ := k.MutexCreate(MutexAttr{Name: "spare"})
		mustThread(c, rec, ThreadAttr{Name: "holder", Priority: 50, Entry: func(c *Context, _ any) any {
			_ = c.MutexLock(m, true, NoTimeout)
			_ = c.MutexLock(m, true, NoTimeout)
			_ = c.MutexLock(spare, true, NoTimeout)
			_ = c.Sleep(1)
			return nil
		}})
		_ = c.Sleep(1)

		err := c.MutexLock(m, true, NoTimeout)
		info, _ := k.MutexInfo(m)
		rec.add("locked %v holder is me %v nest %d", err, info.Holder == c.Self(), info.Nest)
		info, _ = k.MutexInfo(spare)
		rec.add("spare locked %v", info.Locked)
		rec.add("unlock %v", c.MutexUnlock(m))
	})
	r.tick(2)
	expectEvents(t, rec,
		"locked <nil> holder is me true nest 1",
		"spare locked false",
		"unlock <nil>",
	)
}
