package kernel

import (
	"errors"
	"testing"
)

func newWaiter(name string, p Priority) *Thread {
	t := &Thread{name: name, current: p}
	t.node.Init(t)
	return t
}

func drain(tq *threadQueue) []string {
	var out []string
	for t := tq.firstLocked(); t != nil; t = tq.firstLocked() {
		tq.removeLocked(t)
		out = append(out, t.name)
	}
	return out
}

func expectNames(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestPriorityQueueOrdering(t *testing.T) {
	build := func() (*threadQueue, map[string]*Thread) {
		tq := &threadQueue{}
		tq.init(DisciplinePriority, StateWaitingMutex, StatusTimeout)
		byName := map[string]*Thread{}
		for _, w := range []struct {
			name string
			p    Priority
		}{{"a", 50}, {"b", 50}, {"c", 30}, {"d", 50}, {"e", 70}} {
			th := newWaiter(w.name, w.p)
			byName[w.name] = th
			tq.insertLocked(th)
		}
		return tq, byName
	}

	tq, _ := build()
	if tq.len() != 5 {
		t.Fatalf("expected 5 waiters, got %d", tq.len())
	}
	expectNames(t, drain(tq), "c", "a", "b", "d", "e")

	tq, ths := build()
	tq.removeLocked(ths["a"])
	expectNames(t, drain(tq), "c", "b", "d", "e")

	tq, ths = build()
	tq.removeLocked(ths["b"])
	expectNames(t, drain(tq), "c", "a", "d", "e")

	tq, ths = build()
	ths["d"].current = 10
	tq.requeueLocked(ths["d"])
	expectNames(t, drain(tq), "d", "c", "a", "b", "e")
}

func TestFIFOQueueOrdering(t *testing.T) {
	tq := &threadQueue{}
	tq.init(DisciplineFIFO, StateWaitingMutex, StatusTimeout)
	for _, w := range []struct {
		name string
		p    Priority
	}{{"a", 90}, {"b", 10}, {"c", 50}} {
		tq.insertLocked(newWaiter(w.name, w.p))
	}
	expectNames(t, drain(tq), "a", "b", "c")
}

func TestReadyQueuesHighest(t *testing.T) {
	var rq readyQueues
	if rq.highest() != nil {
		t.Fatal("expected no heir in empty ready set")
	}
	ths := []*Thread{newWaiter("x", 200), newWaiter("y", 3), newWaiter("z", 130), newWaiter("w", 3)}
	for _, th := range ths {
		rq.enqueue(th)
	}
	if h := rq.highest(); h != ths[1] {
		t.Fatalf("expected y, got %s", h.name)
	}
	if !rq.rotate(ths[1]) {
		t.Fatal("expected rotate with an equal-priority peer")
	}
	if h := rq.highest(); h != ths[3] {
		t.Fatalf("expected w after rotation, got %s", h.name)
	}
	rq.extract(ths[1])
	rq.extract(ths[3])
	if h := rq.highest(); h != ths[2] {
		t.Fatalf("expected z, got %s", h.name)
	}
	rq.extract(ths[2])
	rq.extract(ths[0])
	if rq.summary != 0 {
		t.Fatalf("expected empty bitmap, got %08b", rq.summary)
	}
}

func TestMutexWakeOrder(t *testing.T) {
	cases := []struct {
		name     string
		protocol MutexProtocol
		want     []string
	}{
		{"fifo", MutexFIFO, []string{"t1", "t2", "t3"}},
		{"priority", MutexPriority, []string{"t2", "t3", "t1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, Config{InitPriority: 10})
			rec := &recorder{}
			var m MutexID
			body := func(c *Context, _ any) any {
				if err := c.MutexLock(m, true, NoTimeout); err != nil {
					rec.add("%s: %v", c.Name(), err)
					return nil
				}
				rec.add("%s", c.Name())
				_ = c.MutexUnlock(m)
				return nil
			}
			r.boot(func(c *Context) {
				var err error
				m, err = c.MutexCreate(MutexAttr{Name: tc.name, Protocol: tc.protocol}, true)
				if err != nil {
					rec.add("create: %v", err)
					return
				}
				// Arrival order differs from priority order.
				for _, w := range []struct {
					name string
					p    Priority
				}{{"t1", 60}, {"t2", 40}, {"t3", 50}} {
					mustThread(c, rec, ThreadAttr{Name: w.name, Priority: w.p, Entry: body})
					_ = c.Sleep(1)
				}
				_ = c.MutexUnlock(m)
			})
			r.tick(3)
			expectEvents(t, rec, tc.want...)
		})
	}
}

func TestSleepWakesInDeadlineOrder(t *testing.T) {
	r := newRig(t, Config{})
	rec := &recorder{}
	r.boot(func(c *Context) {
		for _, s := range []struct {
			name  string
			ticks Ticks
		}{{"three", 3}, {"one", 1}, {"two", 2}} {
			ticks := s.ticks
			mustThread(c, rec, ThreadAttr{Name: s.name, Priority: 50, Entry: func(c *Context, _ any) any {
				_ = c.Sleep(ticks)
				rec.add("%s@%d", c.Name(), c.Now())
				return nil
			}})
		}
	})
	r.tick(3)
	expectEvents(t, rec, "one@1", "two@2", "three@3")
}

func TestTimesliceRotation(t *testing.T) {
	for _, tc := range []struct {
		slice uint32
		want  []string
	}{
		{3, []string{"a before", "b", "a after"}},
		{5, []string{"a before", "a after", "b"}},
	} {
		r := newRig(t, Config{InitPriority: 10, TimesliceTicks: tc.slice})
		rec := &recorder{}
		r.boot(func(c *Context) {
			mustThread(c, rec, ThreadAttr{Name: "a", Priority: 50, Budget: BudgetTimeslice, Entry: func(c *Context, _ any) any {
				// The clock interrupt arrives while a is running.
				for i := 0; i < 3; i++ {
					c.Kernel().Tick()
				}
				rec.add("a before")
				c.Checkpoint()
				rec.add("a after")
				return nil
			}})
			mustThread(c, rec, ThreadAttr{Name: "b", Priority: 50, Budget: BudgetTimeslice, Entry: func(*Context, any) any {
				rec.add("b")
				return nil
			}})
		})
		expectEvents(t, rec, tc.want...)
	}
}

func TestDispatchDisableDefersPreemption(t *testing.T) {
	r := newRig(t, Config{InitPriority: 100})
	rec := &recorder{}
	r.boot(func(c *Context) {
		mustThread(c, rec, ThreadAttr{Name: "hot", Priority: 10, Entry: func(*Context, any) any {
			rec.add("hot")
			return nil
		}})
		rec.add("init after start")
	})
	expectEvents(t, rec, "hot", "init after start")

	r = newRig(t, Config{InitPriority: 100})
	rec = &recorder{}
	var err error
	r.boot(func(c *Context) {
		c.DisableDispatch()
		mustThread(c, rec, ThreadAttr{Name: "hot", Priority: 10, Entry: func(*Context, any) any {
			rec.add("hot")
			return nil
		}})
		rec.add("init holds dispatch")
		err = c.Sleep(1)
		c.EnableDispatch()
		rec.add("init after enable")
	})
	expectEvents(t, rec, "init holds dispatch", "hot", "init after enable")
	if !errors.Is(err, ErrIncorrectState) {
		t.Fatalf("expected blocking with dispatch disabled to fail, got %v", err)
	}
}

func TestSuspendNesting(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	var w ThreadID
	r.boot(func(c *Context) {
		w = mustThread(c, rec, ThreadAttr{Name: "w", Priority: 50, Entry: func(*Context, any) any {
			rec.add("w ran")
			return nil
		}})
		_ = c.ThreadSuspend(w)
		_ = c.ThreadSuspend(w)
		_ = c.ThreadResume(w)
		_ = c.Sleep(1)
		_ = c.ThreadResume(w)
		rec.add("init done")
	})

	info, err := r.k.ThreadInfo(w)
	if err != nil {
		t.Fatalf("ThreadInfo: %v", err)
	}
	if info.SuspendCount != 1 || info.State != StateSuspended {
		t.Fatalf("expected one pending suspension, got %d %s", info.SuspendCount, info.State)
	}
	if len(rec.get()) != 0 {
		t.Fatalf("expected w to stay suspended, got %q", rec.get())
	}

	r.tick(1)
	expectEvents(t, rec, "init done", "w ran")
	if err := r.k.ThreadResume(w); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected exited thread to be gone, got %v", err)
	}
}

func TestResumeWithoutSuspendIsHarmless(t *testing.T) {
	r := newRig(t, Config{})
	id, err := r.k.ThreadCreate(ThreadAttr{Name: "d", Priority: 50, Entry: func(*Context, any) any { return nil }})
	if err != nil {
		t.Fatalf("ThreadCreate: %v", err)
	}
	if err := r.k.ThreadResume(id); err != nil {
		t.Fatalf("expected resume of a thread that is not suspended to succeed, got %v", err)
	}
	if err := r.k.ThreadSuspend(id); !errors.Is(err, ErrIncorrectState) {
		t.Fatalf("expected dormant thread suspend to fail, got %v", err)
	}
	if err := r.k.ThreadDelete(id); err != nil {
		t.Fatalf("ThreadDelete: %v", err)
	}
	if _, err := r.k.ThreadInfo(id); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected deleted thread to be gone, got %v", err)
	}
}

func TestJoinDeliversExitValue(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		ret := mustThread(c, rec, ThreadAttr{Name: "ret", Priority: 50, Entry: func(*Context, any) any { return 42 }})
		v, err := c.ThreadJoin(ret, NoTimeout)
		rec.add("ret %v %v", v, err)

		exit := mustThread(c, rec, ThreadAttr{Name: "exit", Priority: 50, Entry: func(c *Context, _ any) any {
			c.Exit("bye")
			return "unreachable"
		}})
		v, err = c.ThreadJoin(exit, NoTimeout)
		rec.add("exit %v %v", v, err)

		slow := mustThread(c, rec, ThreadAttr{Name: "slow", Priority: 50, Entry: func(c *Context, _ any) any {
			_ = c.Sleep(10)
			return nil
		}})
		_, err = c.ThreadJoin(slow, 2)
		rec.add("slow %v", errors.Is(err, ErrTimeout))

		_, err = c.ThreadJoin(c.Self(), NoTimeout)
		rec.add("self %v", errors.Is(err, ErrIncorrectState))
	})
	r.tick(2)
	expectEvents(t, rec, "ret 42 <nil>", "exit bye <nil>", "slow true", "self true")
}

func TestSetPriorityPreempts(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		w := mustThread(c, rec, ThreadAttr{Name: "w", Priority: 50, Entry: func(*Context, any) any {
			rec.add("w")
			return nil
		}})
		rec.add("before")
		old, err := c.ThreadSetPriority(w, 5)
		rec.add("after %d %v", old, err)
	})
	expectEvents(t, rec, "before", "w", "after 50 <nil>")
}

type waitOutcome struct {
	woken  bool
	status Status
	state  ThreadState
	linked int
	timer  TimerState
}

func TestWaitRaces(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	var satisfied, early, late waitOutcome
	var lateState ThreadState
	r.boot(func(c *Context) {
		k := c.k
		tq := &threadQueue{}
		tq.init(DisciplineFIFO, StateWaitingMessage, StatusTimeout)
		outcome := func(o *waitOutcome) {
			lvl := k.mask.Disable()
			o.status, o.state, o.linked = c.t.wait.status, c.t.state, tq.len()
			o.timer = c.t.timer.State()
			k.mask.Enable(lvl)
		}

		// A signal lands between committing to the wait and linking.
		_ = c.enter(true)
		lvl := k.mask.Disable()
		tq.enterCriticalLocked(c.t, 0)
		satisfied.woken = tq.dequeueLocked(k) == c.t
		k.mask.Enable(lvl)
		k.enqueueThread(tq, c.t, 5)
		c.leave()
		outcome(&satisfied)

		// The timeout fires while the thread is still in its ready bucket.
		_ = c.enter(true)
		lvl = k.mask.Disable()
		tq.enterCriticalLocked(c.t, 0)
		k.mask.Enable(lvl)
		k.threadTimeout(uint32(c.t.id), nil)
		k.enqueueThread(tq, c.t, NoTimeout)
		c.leave()
		outcome(&early)

		// The timeout fires after the thread left the ready queue but
		// before it is linked.
		k.enqueueHook = func(t *Thread) {
			lateState = t.state
			k.threadTimeout(uint32(t.id), nil)
		}
		_ = c.enter(true)
		lvl = k.mask.Disable()
		tq.enterCriticalLocked(c.t, 0)
		k.mask.Enable(lvl)
		k.enqueueThread(tq, c.t, 5)
		k.enqueueHook = nil
		c.leave()
		outcome(&late)
	})

	if !satisfied.woken || satisfied.status != StatusSuccessful || satisfied.state != StateReady ||
		satisfied.linked != 0 || satisfied.timer != TimerInactive {
		t.Fatalf("unexpected satisfied wait %+v", satisfied)
	}
	if early.status != StatusTimeout || early.state != StateReady || early.linked != 0 {
		t.Fatalf("unexpected early timeout %+v", early)
	}
	if lateState != StateWaitingMessage {
		t.Fatalf("expected the hook to run while waiting, got state %s", lateState)
	}
	if late.status != StatusTimeout || late.state != StateReady || late.linked != 0 || late.timer != TimerInactive {
		t.Fatalf("unexpected late timeout %+v", late)
	}
}
