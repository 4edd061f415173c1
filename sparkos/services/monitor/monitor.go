// Package monitor prints the thread table to the console at a fixed tick
// interval.
package monitor

import (
	"errors"
	"fmt"
	"strings"

	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

type Config struct {
	Name     string
	Every    kernel.Ticks
	Priority kernel.Priority
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "monitor"
	}
	if c.Every == 0 {
		c.Every = 5 * kernel.TickRate
	}
	if c.Priority == 0 {
		c.Priority = 240
	}
	return c
}

type Service struct {
	cfg   Config
	out   console.Client
	q     kernel.QueueID
	alarm kernel.AlarmID
}

func New(out console.Client, cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults(), out: out}
}

// Start creates the report thread and arms the periodic alarm that wakes
// it. A report still pending when the alarm fires again is skipped.
func (s *Service) Start(k *kernel.Kernel) error {
	q, err := k.MessageQueueCreate(kernel.QueueAttr{Name: s.cfg.Name, MaxPending: 1, MaxSize: 1})
	if err != nil {
		return fmt.Errorf("monitor: queue: %w", err)
	}
	s.q = q

	id, err := k.ThreadCreate(kernel.ThreadAttr{Name: s.cfg.Name, Priority: s.cfg.Priority, Entry: s.run})
	if err != nil {
		_ = k.MessageQueueDestroy(q)
		return fmt.Errorf("monitor: thread: %w", err)
	}
	if err := k.ThreadStart(id); err != nil {
		return fmt.Errorf("monitor: start: %w", err)
	}

	a, err := k.AlarmCreate(s.cfg.Name)
	if err != nil {
		return fmt.Errorf("monitor: alarm: %w", err)
	}
	s.alarm = a
	if err := k.AlarmSetPeriodic(a, s.cfg.Every, s.cfg.Every, s.fire, k); err != nil {
		return fmt.Errorf("monitor: arm: %w", err)
	}
	return nil
}

func (s *Service) fire(_ kernel.AlarmID, arg any) {
	_ = arg.(*kernel.Kernel).MessageQueueSendFromISR(s.q, []byte{'r'}, kernel.PrioritySend)
}

func (s *Service) run(c *kernel.Context, _ any) any {
	buf := make([]byte, 1)
	for {
		if _, err := c.MessageQueueReceive(s.q, buf, true, kernel.NoTimeout); err != nil {
			if !errors.Is(err, kernel.ErrObjectWasDeleted) {
				c.Kernel().Logger().Errorf("monitor: receive: %v", err)
			}
			return nil
		}
		if err := s.out.Print(c, Report(c.Kernel())); err != nil {
			c.Kernel().Logger().Warnf("monitor: %v", err)
		}
	}
}

// Report renders the thread table.
func Report(k *kernel.Kernel) string {
	st := k.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "-- tick %d, %d switches, heap %d/%d --\n", st.Ticks, st.Switches, st.Heap.Used, st.Heap.Size)
	for _, t := range k.Threads() {
		prio := fmt.Sprint(t.Priority)
		if t.Priority != t.RealPriority {
			prio = fmt.Sprintf("%d(%d)", t.Priority, t.RealPriority)
		}
		fmt.Fprintf(&b, "%-12s %-8s %-16s cpu %d\n", t.Name, prio, t.State, t.CPUTicks)
	}
	return b.String()
}
