package kernel

import (
	"fmt"
	"time"

	"sparkrt/sparkos/internal/klog"
	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/watchdog"
)

// Ticks counts clock ticks.
type Ticks = watchdog.Ticks

// NoTimeout makes a blocking call wait forever.
const NoTimeout Ticks = 0

// TickRate is the number of ticks per second.
const TickRate = watchdog.TickRate

// DurationToTicks converts d to ticks, rounding up.
func DurationToTicks(d time.Duration) Ticks { return watchdog.DurationToTicks(d) }

// TicksToDuration converts ticks to a duration.
func TicksToDuration(t Ticks) time.Duration { return watchdog.TicksToDuration(t) }

// Config sizes the kernel. Zero fields take the DefaultConfig value.
type Config struct {
	MaxThreads int
	MaxMutexes int
	MaxConds   int
	MaxQueues  int
	MaxAlarms  int

	// WorkspaceSize is the arena from which stacks and message buffers
	// are carved.
	WorkspaceSize int
	// StackSize is the stack given to threads that do not choose one.
	StackSize     int
	IdleStackSize int

	// TimesliceTicks is the budget of threads using BudgetTimeslice.
	TimesliceTicks uint32
	// InitPriority is the priority of the thread started by Boot.
	InitPriority Priority

	// Logger receives kernel log lines; nil discards them.
	Logger   klog.Sink
	LogLevel string

	// Countdown is programmed with the earliest timer deadline.
	Countdown watchdog.Countdown
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		MaxThreads:     32,
		MaxMutexes:     32,
		MaxConds:       16,
		MaxQueues:      16,
		MaxAlarms:      16,
		WorkspaceSize:  256 << 10,
		StackSize:      4 << 10,
		IdleStackSize:  1 << 10,
		TimesliceTicks: 10,
		InitPriority:   100,
		LogLevel:       "info",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxThreads == 0 {
		c.MaxThreads = d.MaxThreads
	}
	if c.MaxMutexes == 0 {
		c.MaxMutexes = d.MaxMutexes
	}
	if c.MaxConds == 0 {
		c.MaxConds = d.MaxConds
	}
	if c.MaxQueues == 0 {
		c.MaxQueues = d.MaxQueues
	}
	if c.MaxAlarms == 0 {
		c.MaxAlarms = d.MaxAlarms
	}
	if c.WorkspaceSize == 0 {
		c.WorkspaceSize = d.WorkspaceSize
	}
	if c.StackSize == 0 {
		c.StackSize = d.StackSize
	}
	if c.IdleStackSize == 0 {
		c.IdleStackSize = d.IdleStackSize
	}
	if c.TimesliceTicks == 0 {
		c.TimesliceTicks = d.TimesliceTicks
	}
	if c.InitPriority == 0 {
		c.InitPriority = d.InitPriority
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

// Validate reports configuration values the kernel cannot honour.
func (c Config) Validate() error {
	caps := []struct {
		name string
		n    int
	}{
		{"threads", c.MaxThreads},
		{"mutexes", c.MaxMutexes},
		{"conds", c.MaxConds},
		{"queues", c.MaxQueues},
		{"alarms", c.MaxAlarms},
	}
	for _, cp := range caps {
		if cp.n < 0 || cp.n > objects.MaxCapacity {
			return fmt.Errorf("kernel: %s capacity %d out of range", cp.name, cp.n)
		}
	}
	if c.MaxThreads < 2 {
		return fmt.Errorf("kernel: need room for idle and init threads, got %d", c.MaxThreads)
	}
	if c.StackSize <= 0 || c.IdleStackSize <= 0 {
		return fmt.Errorf("kernel: invalid stack size")
	}
	if c.WorkspaceSize < c.IdleStackSize {
		return fmt.Errorf("kernel: workspace %d smaller than idle stack %d", c.WorkspaceSize, c.IdleStackSize)
	}
	if c.InitPriority > PriorityLowest {
		return fmt.Errorf("kernel: init priority %d: %w", c.InitPriority, ErrInvalidPriority)
	}
	return nil
}
