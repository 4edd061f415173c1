package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/inhies/go-bytesize"

	"sparkrt/internal/buildinfo"
	"sparkrt/sparkos/internal/klog"
	"sparkrt/sparkos/kernel"
)

func builtins() []command {
	return []command{
		{Name: "help", Aliases: []string{"?"}, Usage: "help [command]", Desc: "List commands", Run: cmdHelp},
		{Name: "clear", Aliases: []string{"cls"}, Usage: "clear", Desc: "Clear the screen", Run: cmdClear},
		{Name: "echo", Usage: "echo [text...]", Desc: "Print arguments", Run: cmdEcho},
		{Name: "history", Usage: "history", Desc: "Show recent lines", Run: cmdHistory},
		{Name: "ticks", Aliases: []string{"uptime"}, Usage: "ticks", Desc: "Show the tick counter", Run: cmdTicks},
		{Name: "version", Usage: "version", Desc: "Show build info", Run: cmdVersion},
		{Name: "ps", Aliases: []string{"threads"}, Usage: "ps", Desc: "List threads", Run: cmdPs},
		{Name: "mutexes", Usage: "mutexes", Desc: "List mutexes", Run: cmdMutexes},
		{Name: "conds", Usage: "conds", Desc: "List condition variables", Run: cmdConds},
		{Name: "queues", Usage: "queues", Desc: "List message queues", Run: cmdQueues},
		{Name: "alarms", Usage: "alarms", Desc: "List alarms", Run: cmdAlarms},
		{Name: "heap", Aliases: []string{"mem"}, Usage: "heap", Desc: "Show workspace usage", Run: cmdHeap},
		{Name: "stats", Usage: "stats", Desc: "Show kernel counters", Run: cmdStats},
		{Name: "suspend", Usage: "suspend <thread>", Desc: "Suspend a thread", MinArgs: 1, Run: cmdSuspend},
		{Name: "resume", Usage: "resume <thread>", Desc: "Resume a thread", MinArgs: 1, Run: cmdResume},
		{Name: "prio", Aliases: []string{"nice"}, Usage: "prio <thread> <0-254>", Desc: "Change a thread's priority", MinArgs: 2, Run: cmdPrio},
		{Name: "delete", Aliases: []string{"rm"}, Usage: "delete <thread>", Desc: "Delete a dormant thread", MinArgs: 1, Run: cmdDelete},
		{Name: "log", Usage: "log [none|error|warn|info|debug]", Desc: "Show or set the kernel log level", Run: cmdLog},
	}
}

func cmdHelp(e env, args []string) error {
	if len(args) > 0 {
		cmd, ok := e.s.reg.resolve(args[0])
		if !ok {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		e.printf("usage: %s\n%s\n", cmd.Usage, cmd.Desc)
		if len(cmd.Aliases) > 0 {
			e.printf("aliases: %s\n", strings.Join(cmd.Aliases, " "))
		}
		return nil
	}
	for _, cmd := range e.s.reg.sorted() {
		e.printf("%-10s %s\n", cmd.Name, cmd.Desc)
	}
	return nil
}

func cmdClear(e env, _ []string) error {
	e.s.flush()
	return e.s.out.Clear(e.c)
}

func cmdEcho(e env, args []string) error {
	e.printf("%s\n", strings.Join(args, " "))
	return nil
}

func cmdHistory(e env, _ []string) error {
	for i, line := range e.s.hist {
		e.printf("%3d  %s\n", i+1, line)
	}
	return nil
}

func cmdTicks(e env, _ []string) error {
	now := e.c.Now()
	e.printf("%d ticks (%s)\n", now, kernel.TicksToDuration(now))
	return nil
}

func cmdVersion(e env, _ []string) error {
	e.printf("sparkrt %s\n", buildinfo.Long())
	return nil
}

func cmdPs(e env, _ []string) error {
	e.printf("%-4s %-12s %4s %4s %-16s %8s %s\n", "ID", "NAME", "PRI", "REAL", "STATE", "CPU", "WAIT")
	for _, t := range e.k.Threads() {
		mark := " "
		if t.Executing {
			mark = "*"
		}
		wait := "-"
		if !t.WaitingOn.IsNull() {
			wait = kernel.DescribeID(t.WaitingOn)
		}
		e.printf("%-4d %-12s %4d %4d %-16s %8d %s%s\n",
			kernel.ObjectID(t.ID).Index(), clip(t.Name, 12), t.Priority, t.RealPriority,
			t.State, t.CPUTicks, mark, wait)
	}
	return nil
}

func cmdMutexes(e env, _ []string) error {
	e.printf("%-12s %-8s %-5s %-12s %4s %s\n", "NAME", "PROTO", "CEIL", "HOLDER", "NEST", "WAITERS")
	for _, m := range e.k.Mutexes() {
		holder := "-"
		if m.Locked {
			holder = threadName(e.k, m.Holder)
		}
		ceil := "-"
		if m.Protocol == kernel.MutexCeiling {
			ceil = strconv.Itoa(int(m.Ceiling))
		}
		e.printf("%-12s %-8s %-5s %-12s %4d %d\n", clip(m.Name, 12), m.Protocol, ceil, clip(holder, 12), m.Nest, m.Waiters)
	}
	return nil
}

func cmdConds(e env, _ []string) error {
	e.printf("%-12s %-12s %s\n", "NAME", "MUTEX", "WAITERS")
	for _, c := range e.k.Conds() {
		mutex := "-"
		if c.Mutex != 0 {
			mutex = c.Mutex.String()
			if info, err := e.k.MutexInfo(c.Mutex); err == nil && info.Name != "" {
				mutex = info.Name
			}
		}
		e.printf("%-12s %-12s %d\n", clip(c.Name, 12), clip(mutex, 12), c.Waiters)
	}
	return nil
}

func cmdQueues(e env, _ []string) error {
	e.printf("%-12s %9s %5s %s\n", "NAME", "PENDING", "SIZE", "WAITERS")
	for _, q := range e.k.MessageQueues() {
		e.printf("%-12s %4d/%-4d %5d %d\n", clip(q.Name, 12), q.Pending, q.MaxPending, q.MaxSize, q.Waiters)
	}
	return nil
}

func cmdAlarms(e env, _ []string) error {
	e.printf("%-12s %-9s %7s %7s %s\n", "NAME", "STATE", "PERIOD", "LEFT", "FIRED")
	for _, a := range e.k.Alarms() {
		e.printf("%-12s %-9s %7d %7d %d\n", clip(a.Name, 12), a.State, a.Period, a.Remaining, a.Fired)
	}
	return nil
}

func cmdHeap(e env, _ []string) error {
	h := e.k.Stats().Heap
	e.printf("size    %s\n", bytesize.New(float64(h.Size)))
	e.printf("used    %s in %d blocks\n", bytesize.New(float64(h.Used)), h.Blocks)
	e.printf("free    %s in %d segments (largest %s)\n",
		bytesize.New(float64(h.Free)), h.FreeSegments, bytesize.New(float64(h.LargestFree)))
	e.printf("allocs  %d (%d failed)\n", h.Allocations, h.Failures)
	return nil
}

func cmdStats(e env, _ []string) error {
	st := e.k.Stats()
	e.printf("ticks     %d\n", st.Ticks)
	e.printf("switches  %d\n", st.Switches)
	e.printf("timers    %d\n", st.Timers)
	e.printf("threads   %d/%d\n", st.Threads, st.MaxThreads)
	e.printf("mutexes   %d/%d\n", st.Mutexes, st.MaxMutexes)
	e.printf("conds     %d/%d\n", st.Conds, st.MaxConds)
	e.printf("queues    %d/%d\n", st.Queues, st.MaxQueues)
	e.printf("alarms    %d/%d\n", st.Alarms, st.MaxAlarms)
	e.printf("mask      %d sections, %d flashes, longest %s\n", st.Mask.Sections, st.Mask.Flashes, st.Mask.MaxHold)
	return nil
}

func cmdSuspend(e env, args []string) error {
	id, err := lookupThread(e, args[0])
	if err != nil {
		return err
	}
	if id == e.c.Self() {
		return errors.New("refusing to suspend the shell")
	}
	return e.c.ThreadSuspend(id)
}

func cmdResume(e env, args []string) error {
	id, err := lookupThread(e, args[0])
	if err != nil {
		return err
	}
	return e.c.ThreadResume(id)
}

func cmdPrio(e env, args []string) error {
	id, err := lookupThread(e, args[0])
	if err != nil {
		return err
	}
	p, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("bad priority %q", args[1])
	}
	old, err := e.c.ThreadSetPriority(id, kernel.Priority(p))
	if err != nil {
		return err
	}
	e.printf("%s: %d -> %d\n", threadName(e.k, id), old, p)
	return nil
}

func cmdDelete(e env, args []string) error {
	id, err := lookupThread(e, args[0])
	if err != nil {
		return err
	}
	return e.k.ThreadDelete(id)
}

var levelNames = []struct {
	name string
	mask klog.Mask
}{
	{"debug", klog.LevelMask("debug")},
	{"info", klog.LevelMask("info")},
	{"warn", klog.LevelMask("warn")},
	{"error", klog.LevelMask("error")},
	{"none", klog.LevelMask("none")},
}

func cmdLog(e env, args []string) error {
	l := e.k.Logger()
	if len(args) == 0 {
		cur := "custom"
		for _, ln := range levelNames {
			if ln.mask == l.Mask() {
				cur = ln.name
				break
			}
		}
		e.printf("log level %s\n", cur)
		return nil
	}
	for _, ln := range levelNames {
		if ln.name == strings.ToLower(args[0]) {
			l.SetMask(ln.mask)
			e.printf("log level %s\n", ln.name)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", args[0])
}

// lookupThread resolves a thread name, or a slot index as shown by ps.
func lookupThread(e env, ref string) (kernel.ThreadID, error) {
	if id, ok := e.k.ThreadLookup(ref); ok {
		return id, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		for _, t := range e.k.Threads() {
			if kernel.ObjectID(t.ID).Index() == n {
				return t.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("no thread %q", ref)
}

func threadName(k *kernel.Kernel, id kernel.ThreadID) string {
	if info, err := k.ThreadInfo(id); err == nil && info.Name != "" {
		return info.Name
	}
	return id.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
