package kernel

import (
	"strings"

	"sparkrt/sparkos/internal/chain"
	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/watchdog"
	"sparkrt/sparkos/internal/workspace"
)

// ThreadState is a bit set; StateReady is the empty set.
type ThreadState uint16

const (
	StateReady          ThreadState = 0
	StateDormant        ThreadState = 1 << 0
	StateSuspended      ThreadState = 1 << 1
	StateTransient      ThreadState = 1 << 2
	StateDelaying       ThreadState = 1 << 3
	StateWaitingMutex   ThreadState = 1 << 4
	StateWaitingCond    ThreadState = 1 << 5
	StateWaitingMessage ThreadState = 1 << 6
	StateWaitingJoin    ThreadState = 1 << 7

	stateBlocked = StateDelaying | StateWaitingMutex | StateWaitingCond | StateWaitingMessage | StateWaitingJoin
)

var stateNames = []struct {
	s    ThreadState
	name string
}{
	{StateDormant, "dormant"},
	{StateSuspended, "suspended"},
	{StateTransient, "transient"},
	{StateDelaying, "delaying"},
	{StateWaitingMutex, "mutex"},
	{StateWaitingCond, "cond"},
	{StateWaitingMessage, "message"},
	{StateWaitingJoin, "join"},
}

func (s ThreadState) String() string {
	if s == StateReady {
		return "ready"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Blocked reports whether s includes a wait state.
func (s ThreadState) Blocked() bool { return s&stateBlocked != 0 }

// BudgetAlgorithm selects how a thread's CPU budget is consumed.
type BudgetAlgorithm uint8

const (
	// BudgetNone never rotates the thread.
	BudgetNone BudgetAlgorithm = iota
	// BudgetTimeslice rotates the thread behind its equal-priority peers
	// when its time slice runs out.
	BudgetTimeslice
)

// ThreadFunc is a thread body. Its return value is the exit value handed
// to joiners.
type ThreadFunc func(c *Context, arg any) any

// ThreadAttr describes a thread to create.
type ThreadAttr struct {
	Name     string
	Entry    ThreadFunc
	Arg      any
	Priority Priority

	// Stack is used as the thread stack when set; otherwise StackSize
	// bytes (or Config.StackSize) are taken from the workspace.
	Stack     []byte
	StackSize int

	NoPreempt bool
	Budget    BudgetAlgorithm
}

type waitInfo struct {
	queue    *threadQueue
	status   Status
	id       objects.ID
	buf      []byte
	size     int
	priority int
	// sending marks a thread blocked in a message queue send; buf then
	// holds its message.
	sending  bool
	value    any
}

// Thread is the control block of a kernel thread.
type Thread struct {
	id   ThreadID
	name string

	node     chain.Node[Thread]
	readyAt  Priority
	waitHead *Thread
	waitPrio Priority
	samePrio chain.Queue[Thread]
	// queuedOn is the thread-queue t.node is linked into, if any.
	queuedOn *threadQueue

	real    Priority
	current Priority
	state   ThreadState

	suspendCount  uint32
	resourceCount uint32

	preemptible bool
	budget      BudgetAlgorithm
	budgetLeft  uint32
	cpuTicks    uint64

	entry     ThreadFunc
	arg       any
	exitValue any

	stack      []byte
	stackBlock workspace.Block

	wait  waitInfo
	joinQ threadQueue
	timer watchdog.Timer

	resume chan struct{}
	ctx    Context
}

// ThreadInfo is a snapshot of a thread.
type ThreadInfo struct {
	ID            ThreadID
	Name          string
	Priority      Priority
	RealPriority  Priority
	State         ThreadState
	SuspendCount  uint32
	ResourceCount uint32
	CPUTicks      uint64
	WaitingOn     ObjectID
	StackSize     int
	Preemptible   bool
	Executing     bool
}

func (k *Kernel) threadInfoLocked(t *Thread) ThreadInfo {
	info := ThreadInfo{
		ID:            t.id,
		Name:          t.name,
		Priority:      t.current,
		RealPriority:  t.real,
		State:         t.state,
		SuspendCount:  t.suspendCount,
		ResourceCount: t.resourceCount,
		CPUTicks:      t.cpuTicks,
		StackSize:     len(t.stack),
		Preemptible:   t.preemptible,
		Executing:     t == k.executing,
	}
	if t.wait.queue != nil {
		info.WaitingOn = t.wait.id
	}
	return info
}

// ThreadCreate creates a dormant thread.
func (k *Kernel) ThreadCreate(attr ThreadAttr) (ThreadID, error) {
	if attr.Priority > PriorityLowest {
		return 0, ErrInvalidPriority
	}
	return k.createThread(attr)
}

func (k *Kernel) createThread(attr ThreadAttr) (ThreadID, error) {
	if attr.Entry == nil {
		return 0, ErrInvalidArgument
	}

	stack := attr.Stack
	var blk workspace.Block
	if stack == nil {
		size := attr.StackSize
		if size <= 0 {
			size = k.cfg.StackSize
		}
		b, err := k.heap.Allocate(size)
		if err != nil {
			k.log.Warnf("thread %q: stack: %v", attr.Name, err)
			return 0, ErrUnsatisfied
		}
		blk = b
		stack = b.Bytes()
	}

	lvl := k.mask.Disable()
	t, oid, err := k.threads.Allocate()
	if err != nil {
		k.mask.Enable(lvl)
		if !blk.IsZero() {
			_ = k.heap.Free(blk)
		}
		return 0, ErrTooMany
	}
	id := ThreadID(oid)
	t.id = id
	t.name = attr.Name
	t.node.Init(t)
	t.real = attr.Priority
	t.current = attr.Priority
	t.state = StateDormant
	t.preemptible = !attr.NoPreempt
	t.budget = attr.Budget
	t.budgetLeft = k.cfg.TimesliceTicks
	t.entry = attr.Entry
	t.arg = attr.Arg
	t.stack = stack
	t.stackBlock = blk
	t.joinQ.init(DisciplineFIFO, StateWaitingJoin, StatusTimeout)
	t.timer.Init(nil, uint32(id), nil)
	t.resume = make(chan struct{}, 1)
	t.ctx = Context{k: k, t: t}
	_ = k.threads.Open(oid)
	k.mask.Enable(lvl)

	k.log.Debugf("thread %s %q created prio=%d stack=%d", id, attr.Name, attr.Priority, len(stack))
	return id, nil
}

// ThreadStart makes a dormant thread ready.
func (k *Kernel) ThreadStart(id ThreadID) error {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	return k.threadStartLocked(id).Err()
}

func (k *Kernel) threadStartLocked(id ThreadID) Status {
	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		return StatusInvalidID
	}
	if t.state&StateDormant == 0 {
		return StatusIncorrectState
	}
	go k.threadMain(t)
	k.clearStateLocked(t, StateDormant)
	return StatusSuccessful
}

// ThreadDelete releases a thread that was never started. Threads that
// are running end by returning from their entry or calling Context.Exit.
func (k *Kernel) ThreadDelete(id ThreadID) error {
	lvl := k.mask.Disable()
	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		k.leaveISR(lvl)
		return ErrInvalidID
	}
	if t.state&StateDormant == 0 {
		k.leaveISR(lvl)
		return ErrIncorrectState
	}
	t.joinQ.flushLocked(k, StatusObjectWasDeleted, nil)
	blk := t.stackBlock
	_ = k.threads.Close(objects.ID(id))
	k.leaveISR(lvl)

	if !blk.IsZero() {
		_ = k.heap.Free(blk)
	}
	lvl = k.mask.Disable()
	_ = k.threads.Free(objects.ID(id))
	k.mask.Enable(lvl)
	k.log.Debugf("thread %s deleted", id)
	return nil
}

// ThreadSuspend suspends a thread. Suspensions nest.
func (k *Kernel) ThreadSuspend(id ThreadID) error {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	return k.threadSuspendLocked(id).Err()
}

func (k *Kernel) threadSuspendLocked(id ThreadID) Status {
	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		return StatusInvalidID
	}
	if t == k.idle || t.state&(StateDormant|StateTransient) != 0 {
		return StatusIncorrectState
	}
	t.suspendCount++
	k.setStateLocked(t, StateSuspended)
	return StatusSuccessful
}

// ThreadResume undoes one ThreadSuspend. Resuming a thread that is not
// suspended does nothing.
func (k *Kernel) ThreadResume(id ThreadID) error {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	return k.threadResumeLocked(id, false).Err()
}

// ThreadForceResume clears every pending suspension.
func (k *Kernel) ThreadForceResume(id ThreadID) error {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	return k.threadResumeLocked(id, true).Err()
}

func (k *Kernel) threadResumeLocked(id ThreadID, force bool) Status {
	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		return StatusInvalidID
	}
	if t.suspendCount == 0 {
		return StatusSuccessful
	}
	if force {
		t.suspendCount = 0
	} else {
		t.suspendCount--
	}
	if t.suspendCount == 0 {
		k.clearStateLocked(t, StateSuspended)
	}
	return StatusSuccessful
}

// ThreadSetPriority changes the real priority of a thread and returns the
// previous one. A thread holding inheritance or ceiling mutexes keeps its
// boosted priority until it releases them.
func (k *Kernel) ThreadSetPriority(id ThreadID, p Priority) (Priority, error) {
	lvl := k.mask.Disable()
	defer k.leaveISR(lvl)
	old, st := k.threadSetPriorityLocked(id, p)
	return old, st.Err()
}

func (k *Kernel) threadSetPriorityLocked(id ThreadID, p Priority) (Priority, Status) {
	if p > PriorityLowest {
		return 0, StatusInvalidPriority
	}
	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		return 0, StatusInvalidID
	}
	if t == k.idle {
		return 0, StatusIncorrectState
	}
	old := t.real
	t.real = p
	if t.resourceCount == 0 || t.current > p {
		k.changePriorityLocked(t, p, false)
	}
	return old, StatusSuccessful
}

// ThreadInfo returns a snapshot of one thread.
func (k *Kernel) ThreadInfo(id ThreadID) (ThreadInfo, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	t, ok := k.threads.Get(objects.ID(id))
	if !ok {
		return ThreadInfo{}, ErrInvalidID
	}
	return k.threadInfoLocked(t), nil
}

// Threads returns a snapshot of every live thread.
func (k *Kernel) Threads() []ThreadInfo {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	out := make([]ThreadInfo, 0, k.threads.InUse())
	k.threads.Each(func(_ objects.ID, t *Thread) bool {
		out = append(out, k.threadInfoLocked(t))
		return true
	})
	return out
}

// ThreadLookup finds a live thread by name.
func (k *Kernel) ThreadLookup(name string) (ThreadID, bool) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	var found ThreadID
	k.threads.Each(func(_ objects.ID, t *Thread) bool {
		if t.name == name {
			found = t.id
			return false
		}
		return true
	})
	return found, found != 0
}

func (k *Kernel) threadMain(t *Thread) {
	<-t.resume
	defer k.threadExit(t)
	t.exitValue = t.entry(&t.ctx, t.arg)
}

// threadExit runs on the exiting thread's goroutine. It hands the CPU to
// the heir without waiting to be resumed.
func (k *Kernel) threadExit(t *Thread) {
	if r := recover(); r != nil {
		k.log.Errorf("thread %s %q panicked: %v", t.id, t.name, r)
		triggerPanic(PanicInfo{ThreadID: t.id, Thread: t.name, Value: r})
	}

	id, name := t.id, t.name
	lvl := k.mask.Disable()
	k.dispatchDisable = 0
	k.wd.RemoveLocked(&t.timer)
	held := k.releaseHeldLocked(t)
	k.setStateLocked(t, StateTransient)
	value := t.exitValue
	joined := t.joinQ.flushLocked(k, StatusSuccessful, func(j *Thread) { j.wait.value = value })
	blk := t.stackBlock
	_ = k.threads.Close(objects.ID(id))
	k.mask.Enable(lvl)

	if !blk.IsZero() {
		_ = k.heap.Free(blk)
	}

	lvl = k.mask.Disable()
	_ = k.threads.Free(objects.ID(id))
	heir := k.heir
	k.executing = heir
	k.dispatchNeeded = false
	k.switches++
	if heir.budget == BudgetTimeslice {
		heir.budgetLeft = k.cfg.TimesliceTicks
	}
	k.mask.Enable(lvl)

	if held > 0 {
		k.log.Warnf("thread %s %q exited holding %d mutex(es)", id, name, held)
	}
	k.log.Debugf("thread %s %q exited, %d joiner(s)", id, name, joined)
	heir.resume <- struct{}{}
}

// releaseHeldLocked unlocks every mutex t holds, whatever its nesting,
// handing each to its next waiter.
func (k *Kernel) releaseHeldLocked(t *Thread) int {
	n := 0
	k.mutexes.Each(func(_ objects.ID, m *Mutex) bool {
		if m.locked && m.holder == t {
			m.nest = 1
			k.mutexSurrenderLocked(m, t)
			n++
		}
		return true
	})
	return n
}
