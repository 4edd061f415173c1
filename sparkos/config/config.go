// Package config loads the host configuration file: kernel capacities,
// workspace sizing and the services started at boot.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"sparkrt/sparkos/kernel"
)

// Size is a byte count written in the file as "256KB", "1.5MB" or a plain
// integer.
type Size int

func (s *Size) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	n, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s = n
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// ParseSize parses a human byte size. Unit suffixes are binary (1KB is
// 1024 bytes).
func ParseSize(raw string) (Size, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.IndexFunc(raw, func(r rune) bool { return (r < '0' || r > '9') && r != '.' }) < 0 {
		raw += "B"
	}
	b, err := bytesize.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("config: size %q: %w", raw, err)
	}
	if b < 0 || float64(b) > float64(1<<31) {
		return 0, fmt.Errorf("config: size %q out of range", raw)
	}
	return Size(b), nil
}

// Limits caps the kernel object pools.
type Limits struct {
	Threads int `yaml:"threads"`
	Mutexes int `yaml:"mutexes"`
	Conds   int `yaml:"conds"`
	Queues  int `yaml:"queues"`
	Alarms  int `yaml:"alarms"`
}

// Console configures the console and shell services.
type Console struct {
	Enabled bool `yaml:"enabled"`
	// Rotation is the display rotation in quarter turns.
	Rotation int `yaml:"rotation"`
	// Pending is the depth of the console output queue.
	Pending  int             `yaml:"pending"`
	Priority kernel.Priority `yaml:"priority"`
	Prompt   string          `yaml:"prompt"`
}

// Monitor configures the periodic thread table dump.
type Monitor struct {
	// Every is the dump period in ticks; zero disables the monitor.
	Every    uint32          `yaml:"every"`
	Priority kernel.Priority `yaml:"priority"`
}

// File is the on-disk configuration.
type File struct {
	Limits    Limits `yaml:"limits"`
	Workspace Size   `yaml:"workspace"`
	Stack     Size   `yaml:"stack"`
	IdleStack Size   `yaml:"idle_stack"`

	Timeslice    uint32          `yaml:"timeslice"`
	InitPriority kernel.Priority `yaml:"init_priority"`
	LogLevel     string          `yaml:"log_level"`

	// Hz is the rate of the host tick pump. The kernel clock still counts
	// kernel.TickRate ticks per second of wall time.
	Hz int `yaml:"hz"`

	Console Console `yaml:"console"`
	Monitor Monitor `yaml:"monitor"`
	// Demos names the demo tasks started at boot.
	Demos []string `yaml:"demos"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	d := kernel.DefaultConfig()
	return File{
		Limits: Limits{
			Threads: d.MaxThreads,
			Mutexes: d.MaxMutexes,
			Conds:   d.MaxConds,
			Queues:  d.MaxQueues,
			Alarms:  d.MaxAlarms,
		},
		Workspace:    Size(d.WorkspaceSize),
		Stack:        Size(d.StackSize),
		IdleStack:    Size(d.IdleStackSize),
		Timeslice:    d.TimesliceTicks,
		InitPriority: d.InitPriority,
		LogLevel:     d.LogLevel,
		Hz:           100,
		Console: Console{
			Enabled:  true,
			Pending:  32,
			Priority: 20,
			Prompt:   "> ",
		},
		Monitor: Monitor{Priority: 240},
	}
}

// Parse decodes data over the defaults. Unknown keys are errors.
func Parse(data []byte) (File, error) {
	f := Default()
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads and parses the file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Marshal renders f as YAML.
func (f File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// Validate checks the values the kernel configuration does not cover.
func (f File) Validate() error {
	if f.Hz <= 0 {
		return fmt.Errorf("config: hz must be positive, got %d", f.Hz)
	}
	if f.Console.Rotation < 0 || f.Console.Rotation > 3 {
		return fmt.Errorf("config: console rotation %d not in 0..3", f.Console.Rotation)
	}
	if f.Console.Enabled && f.Console.Pending <= 0 {
		return fmt.Errorf("config: console pending must be positive")
	}
	if _, err := f.Kernel(); err != nil {
		return err
	}
	return nil
}

// Kernel returns the kernel configuration described by f.
func (f File) Kernel() (kernel.Config, error) {
	cfg := kernel.Config{
		MaxThreads:     f.Limits.Threads,
		MaxMutexes:     f.Limits.Mutexes,
		MaxConds:       f.Limits.Conds,
		MaxQueues:      f.Limits.Queues,
		MaxAlarms:      f.Limits.Alarms,
		WorkspaceSize:  int(f.Workspace),
		StackSize:      int(f.Stack),
		IdleStackSize:  int(f.IdleStack),
		TimesliceTicks: f.Timeslice,
		InitPriority:   f.InitPriority,
		LogLevel:       f.LogLevel,
	}
	if err := cfg.Validate(); err != nil {
		return kernel.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
