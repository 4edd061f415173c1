// Package logger moves kernel log lines off the caller's path. Lines are
// queued from any context and a low priority thread writes them to the
// host log.
package logger

import (
	"errors"
	"fmt"
	"sync/atomic"

	"sparkrt/hal"
	"sparkrt/sparkos/internal/klog"
	"sparkrt/sparkos/kernel"
)

type Config struct {
	Name     string
	Pending  int
	MaxLine  int
	Priority kernel.Priority
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "logger"
	}
	if c.Pending <= 0 {
		c.Pending = 64
	}
	if c.MaxLine <= 0 {
		c.MaxLine = 160
	}
	if c.Priority == 0 {
		c.Priority = 200
	}
	return c
}

type route struct {
	k *kernel.Kernel
	q kernel.QueueID
}

// Service is a klog sink. Until Start, and after its queue is gone, lines
// are written straight through.
type Service struct {
	cfg Config
	out hal.Logger

	route    atomic.Pointer[route]
	dropped  atomic.Uint64
	reported uint64
}

func New(out hal.Logger, cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults(), out: out}
}

// WriteLineString queues line. Lines longer than MaxLine are cut; lines
// that do not fit the queue are counted and dropped.
func (s *Service) WriteLineString(line string) {
	r := s.route.Load()
	if r == nil {
		s.direct(line)
		return
	}
	if len(line) > s.cfg.MaxLine {
		line = line[:s.cfg.MaxLine]
	}
	err := r.k.MessageQueueSendFromISR(r.q, []byte(line), kernel.PrioritySend)
	switch {
	case err == nil:
	case errors.Is(err, kernel.ErrInvalidID):
		s.route.CompareAndSwap(r, nil)
		s.direct(line)
	default:
		s.dropped.Add(1)
	}
}

func (s *Service) WriteLineBytes(b []byte) { s.WriteLineString(string(b)) }

// Dropped returns the number of lines lost to a full queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) direct(line string) {
	if s.out != nil {
		s.out.WriteLineString(line)
	}
}

// Start creates the queue and the writer thread and switches the sink to
// queued delivery.
func (s *Service) Start(k *kernel.Kernel) error {
	q, err := k.MessageQueueCreate(kernel.QueueAttr{
		Name:       s.cfg.Name,
		MaxPending: s.cfg.Pending,
		MaxSize:    s.cfg.MaxLine,
	})
	if err != nil {
		return fmt.Errorf("logger: queue: %w", err)
	}
	id, err := k.ThreadCreate(kernel.ThreadAttr{
		Name:     s.cfg.Name,
		Priority: s.cfg.Priority,
		Entry:    s.run,
		Arg:      q,
	})
	if err != nil {
		_ = k.MessageQueueDestroy(q)
		return fmt.Errorf("logger: thread: %w", err)
	}
	if err := k.ThreadStart(id); err != nil {
		return fmt.Errorf("logger: start: %w", err)
	}
	s.route.Store(&route{k: k, q: q})
	return nil
}

func (s *Service) run(c *kernel.Context, arg any) any {
	q := arg.(kernel.QueueID)
	buf := make([]byte, s.cfg.MaxLine)
	for {
		n, err := c.MessageQueueReceive(q, buf, true, kernel.NoTimeout)
		if err != nil {
			s.route.Store(nil)
			if !errors.Is(err, kernel.ErrObjectWasDeleted) {
				s.direct(fmt.Sprintf("%s logger: receive: %v", klog.ErrorTag, err))
			}
			return nil
		}
		if s.out != nil {
			s.out.WriteLineBytes(buf[:n])
		}
		if d := s.dropped.Load(); d != s.reported {
			s.direct(fmt.Sprintf("%s logger: %d line(s) dropped", klog.WarnTag, d-s.reported))
			s.reported = d
		}
	}
}
