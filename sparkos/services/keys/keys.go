// Package keys turns keyboard events into VT100 bytes for the shell. It
// runs in interrupt context; held cursor and editing keys repeat from a
// kernel alarm.
package keys

import (
	"fmt"
	"sync"

	"sparkrt/hal"
	"sparkrt/sparkos/kernel"
)

// Sink receives translated bytes in interrupt context.
type Sink func(k *kernel.Kernel, b []byte) error

// Config sets the repeat timing.
type Config struct {
	RepeatDelay kernel.Ticks
	RepeatRate  kernel.Ticks
}

func (c Config) withDefaults() Config {
	if c.RepeatDelay == 0 {
		c.RepeatDelay = 350
	}
	if c.RepeatRate == 0 {
		c.RepeatRate = 60
	}
	return c
}

type Service struct {
	cfg  Config
	sink Sink

	k     *kernel.Kernel
	alarm kernel.AlarmID

	mu       sync.Mutex
	heldCode hal.KeyCode
	heldData []byte
	dropped  uint64
}

func New(sink Sink, cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults(), sink: sink}
}

// Start creates the repeat alarm.
func (s *Service) Start(k *kernel.Kernel) error {
	id, err := k.AlarmCreate("key-repeat")
	if err != nil {
		return fmt.Errorf("keys: alarm: %w", err)
	}
	s.k = k
	s.alarm = id
	return nil
}

// Dropped returns the number of key sequences the sink refused.
func (s *Service) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Handle translates one event. It must be called from interrupt context,
// after Start.
func (s *Service) Handle(ev hal.KeyEvent) {
	if !ev.Press {
		s.mu.Lock()
		stop := s.heldData != nil && ev.Code == s.heldCode
		if stop {
			s.heldData = nil
		}
		s.mu.Unlock()
		if stop {
			_, _ = s.k.AlarmCancel(s.alarm)
		}
		return
	}

	data := vt100FromKey(ev)
	if len(data) == 0 {
		return
	}
	s.emit(data)

	if !repeatableKey(ev) {
		return
	}
	s.mu.Lock()
	s.heldCode = ev.Code
	s.heldData = append(s.heldData[:0], data...)
	s.mu.Unlock()
	if err := s.k.AlarmSetPeriodic(s.alarm, s.cfg.RepeatDelay, s.cfg.RepeatRate, s.repeat, nil); err != nil {
		s.k.Logger().Warnf("keys: repeat: %v", err)
	}
}

func (s *Service) repeat(kernel.AlarmID, any) {
	s.mu.Lock()
	data := append([]byte(nil), s.heldData...)
	s.mu.Unlock()
	if len(data) > 0 {
		s.emit(data)
	}
}

func (s *Service) emit(data []byte) {
	if s.sink == nil {
		return
	}
	if err := s.sink(s.k, data); err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func repeatableKey(ev hal.KeyEvent) bool {
	switch ev.Code {
	case hal.KeyUp, hal.KeyDown, hal.KeyLeft, hal.KeyRight,
		hal.KeyBackspace, hal.KeyDelete, hal.KeyHome, hal.KeyEnd:
		return true
	default:
		return false
	}
}

func vt100FromKey(ev hal.KeyEvent) []byte {
	if ev.Rune != 0 {
		return []byte(string(ev.Rune))
	}

	switch ev.Code {
	case hal.KeyEnter:
		return []byte{'\n'}
	case hal.KeyEscape:
		return []byte{0x1b}
	case hal.KeyBackspace:
		return []byte{0x7f}
	case hal.KeyTab:
		return []byte{'\t'}
	case hal.KeyUp:
		return []byte("\x1b[A")
	case hal.KeyDown:
		return []byte("\x1b[B")
	case hal.KeyRight:
		return []byte("\x1b[C")
	case hal.KeyLeft:
		return []byte("\x1b[D")
	case hal.KeyDelete:
		return []byte("\x1b[3~")
	case hal.KeyHome:
		return []byte("\x1b[H")
	case hal.KeyEnd:
		return []byte("\x1b[F")
	case hal.KeyF1:
		return []byte("\x1bOP")
	case hal.KeyF2:
		return []byte("\x1bOQ")
	case hal.KeyF3:
		return []byte("\x1bOR")
	default:
		return nil
	}
}
