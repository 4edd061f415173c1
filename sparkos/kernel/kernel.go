// Package kernel is a single-core priority scheduler with mutexes,
// condition variables, message queues and alarms.
//
// Every thread runs on its own goroutine, but only the executing thread is
// ever unparked. Code outside the thread set (tick sources, drivers, tests)
// plays the role of interrupt handlers and uses the Kernel methods; thread
// bodies use their Context.
package kernel

import (
	"context"
	"fmt"

	"sparkrt/sparkos/internal/isr"
	"sparkrt/sparkos/internal/klog"
	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/watchdog"
	"sparkrt/sparkos/internal/workspace"
)

// Kernel is one scheduler instance and its object pools.
type Kernel struct {
	cfg  Config
	log  *klog.Logger
	mask isr.Mask
	wd   *watchdog.List
	heap *workspace.Heap

	threads *objects.Pool[Thread]
	mutexes *objects.Pool[Mutex]
	conds   *objects.Pool[Cond]
	queues  *objects.Pool[MessageQueue]
	alarms  *objects.Pool[Alarm]

	ready           readyQueues
	heir            *Thread
	executing       *Thread
	idle            *Thread
	dispatchNeeded  bool
	dispatchDisable uint32
	switches        uint64

	booted      bool
	wfi         chan struct{}
	idleParked  bool
	idleWaiters []chan struct{}

	// enqueueHook runs between committing a thread to a wait and linking
	// it. Tests use it to land interrupts in that window.
	enqueueHook   func(t *Thread)
	// alarmFireHook runs when an alarm's timer has expired, before its
	// handler is looked up.
	alarmFireHook func(id AlarmID)
}

// New builds a kernel and its idle thread. Nothing runs until Boot.
func New(cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{cfg: cfg, wfi: make(chan struct{}, 1)}
	k.log = klog.New(cfg.Logger, "kernel: ", klog.LevelMask(cfg.LogLevel))

	heap, err := workspace.New(cfg.WorkspaceSize, &k.mask)
	if err != nil {
		return nil, fmt.Errorf("kernel: workspace: %w", err)
	}
	k.heap = heap
	k.wd = watchdog.NewList(&k.mask, cfg.Countdown)

	if k.threads, err = objects.NewPool[Thread](classThread, "threads", cfg.MaxThreads); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if k.mutexes, err = objects.NewPool[Mutex](classMutex, "mutexes", cfg.MaxMutexes); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if k.conds, err = objects.NewPool[Cond](classCond, "conds", cfg.MaxConds); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if k.queues, err = objects.NewPool[MessageQueue](classQueue, "queues", cfg.MaxQueues); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if k.alarms, err = objects.NewPool[Alarm](classAlarm, "alarms", cfg.MaxAlarms); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	id, err := k.createThread(ThreadAttr{
		Name:      "idle",
		Entry:     k.idleBody,
		Priority:  PriorityIdle,
		StackSize: cfg.IdleStackSize,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: idle thread: %w", err)
	}
	lvl := k.mask.Disable()
	k.idle, _ = k.threads.Get(objects.ID(id))
	k.threadStartLocked(id)
	k.mask.Enable(lvl)

	k.log.Infof("ready: %d threads, %d mutexes, %d conds, %d queues, %d alarms, workspace %d",
		cfg.MaxThreads, cfg.MaxMutexes, cfg.MaxConds, cfg.MaxQueues, cfg.MaxAlarms, cfg.WorkspaceSize)
	return k, nil
}

// Boot starts scheduling. entry, when set, runs as the init thread at
// Config.InitPriority. Boot returns once the first thread has been handed
// the CPU; the caller goes on to act as the interrupt source.
func (k *Kernel) Boot(entry ThreadFunc, arg any) (ThreadID, error) {
	lvl := k.mask.Disable()
	booted := k.booted
	k.mask.Enable(lvl)
	if booted {
		return 0, ErrIncorrectState
	}

	var id ThreadID
	if entry != nil {
		var err error
		id, err = k.createThread(ThreadAttr{Name: "init", Entry: entry, Arg: arg, Priority: k.cfg.InitPriority})
		if err != nil {
			return 0, fmt.Errorf("kernel: init thread: %w", err)
		}
	}

	lvl = k.mask.Disable()
	if id != 0 {
		k.threadStartLocked(id)
	}
	k.booted = true
	heir := k.heir
	k.executing = heir
	k.dispatchNeeded = false
	k.switches++
	if heir.budget == BudgetTimeslice {
		heir.budgetLeft = k.cfg.TimesliceTicks
	}
	k.mask.Enable(lvl)

	k.log.Infof("boot: first thread %s %q", heir.id, heir.name)
	heir.resume <- struct{}{}
	return id, nil
}

// Tick is the clock interrupt: it fires due timers and charges the
// executing thread's time slice.
func (k *Kernel) Tick() int {
	fired := k.wd.Tick()
	lvl := k.mask.Disable()
	k.tickleTimesliceLocked()
	k.leaveISR(lvl)
	return fired
}

// TickTo moves the clock to now, firing everything that became due, and
// charges a single tick to the executing thread. It suits tick sources
// that report an absolute count.
func (k *Kernel) TickTo(now Ticks) int {
	fired := k.wd.AdvanceTo(now)
	lvl := k.mask.Disable()
	k.tickleTimesliceLocked()
	k.leaveISR(lvl)
	return fired
}

// Now returns the current tick count.
func (k *Kernel) Now() Ticks { return k.wd.Now() }

// Executing returns the thread that holds the CPU.
func (k *Kernel) Executing() ThreadID {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	if k.executing == nil {
		return 0
	}
	return k.executing.id
}

// Logger returns the kernel logger. Services derive their own with With.
func (k *Kernel) Logger() *klog.Logger { return k.log }

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

// WaitIdle blocks until only the idle thread has work, that is every
// thread is blocked or dormant and no switch is pending.
func (k *Kernel) WaitIdle(ctx context.Context) error {
	lvl := k.mask.Disable()
	if k.booted && k.executing == k.idle && k.idleParked && !k.dispatchNeeded {
		k.mask.Enable(lvl)
		return nil
	}
	ch := make(chan struct{})
	k.idleWaiters = append(k.idleWaiters, ch)
	k.mask.Enable(lvl)

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kernel) idleBody(c *Context, _ any) any {
	for {
		lvl := k.mask.Disable()
		if k.dispatchNeeded {
			k.mask.Enable(lvl)
			k.dispatch(c.t)
			continue
		}
		k.idleParked = true
		waiters := k.idleWaiters
		k.idleWaiters = nil
		k.mask.Enable(lvl)

		for _, w := range waiters {
			close(w)
		}
		<-k.wfi
	}
}

// leaveISR ends an interrupt-context section.
func (k *Kernel) leaveISR(lvl isr.Level) {
	k.isrExitLocked()
	k.mask.Enable(lvl)
}

// isrExitLocked wakes the idle thread when an interrupt made other work
// ready. A thread that is running picks the switch up at its next
// dispatch point.
func (k *Kernel) isrExitLocked() {
	if k.dispatchNeeded && k.executing == k.idle && k.idleParked {
		k.idleParked = false
		select {
		case k.wfi <- struct{}{}:
		default:
		}
	}
}

// Stats is a snapshot of kernel counters.
type Stats struct {
	Ticks    Ticks
	Switches uint64
	Mask     isr.Stats
	Heap     workspace.Stats

	Threads, MaxThreads int
	Mutexes, MaxMutexes int
	Conds, MaxConds     int
	Queues, MaxQueues   int
	Alarms, MaxAlarms   int

	Timers int
}

// Stats returns a snapshot of kernel counters.
func (k *Kernel) Stats() Stats {
	s := Stats{Heap: k.heap.Stats()}

	lvl := k.mask.Disable()
	s.Ticks = k.wd.NowLocked()
	s.Switches = k.switches
	s.Threads, s.MaxThreads = k.threads.InUse(), k.threads.Capacity()
	s.Mutexes, s.MaxMutexes = k.mutexes.InUse(), k.mutexes.Capacity()
	s.Conds, s.MaxConds = k.conds.InUse(), k.conds.Capacity()
	s.Queues, s.MaxQueues = k.queues.InUse(), k.queues.Capacity()
	s.Alarms, s.MaxAlarms = k.alarms.InUse(), k.alarms.Capacity()
	s.Timers = k.wd.Len()
	k.mask.Enable(lvl)

	s.Mask = k.mask.Stats()
	return s
}
