// Package demo holds small kernel workloads that show scheduling behaviour
// on the console.
package demo

import (
	"fmt"
	"sort"

	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

// Demo is a named workload.
type Demo struct {
	Name  string
	Desc  string
	start func(k *kernel.Kernel, out console.Client, period kernel.Ticks) error
}

var demos = map[string]Demo{
	"inherit": {Name: "inherit", Desc: "priority inheritance on a shared mutex", start: startInherit},
	"pipe":    {Name: "pipe", Desc: "producer and consumer over a message queue", start: startPipe},
	"cond":    {Name: "cond", Desc: "threads waiting on a condition variable", start: startCond},
}

// Names lists the available demos.
func Names() []string {
	out := make([]string, 0, len(demos))
	for n := range demos {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the demo called name.
func Lookup(name string) (Demo, bool) {
	d, ok := demos[name]
	return d, ok
}

// Start creates the demo's objects and threads. period paces the demo.
func (d Demo) Start(k *kernel.Kernel, out console.Client, period kernel.Ticks) error {
	if period == 0 {
		period = kernel.TickRate
	}
	if err := d.start(k, out, period); err != nil {
		return fmt.Errorf("demo %s: %w", d.Name, err)
	}
	return nil
}

func spawn(k *kernel.Kernel, name string, prio kernel.Priority, fn kernel.ThreadFunc, arg any) (kernel.ThreadID, error) {
	id, err := k.ThreadCreate(kernel.ThreadAttr{Name: name, Priority: prio, Entry: fn, Arg: arg})
	if err != nil {
		return 0, err
	}
	return id, k.ThreadStart(id)
}
