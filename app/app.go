// Package app assembles the OS: it boots the kernel described by a
// configuration file, starts the services on top of it and feeds it the
// host's interrupts.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"sparkrt/hal"
	"sparkrt/sparkos/config"
	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
	"sparkrt/sparkos/services/keys"
	"sparkrt/sparkos/services/logger"
	"sparkrt/sparkos/services/monitor"
	"sparkrt/sparkos/services/shell"
	"sparkrt/sparkos/tasks/demo"

	"tinygo.org/x/drivers"
)

// bootTimeout bounds how long the init thread may take to start services.
const bootTimeout = 5 * time.Second

type system struct {
	k     *kernel.Kernel
	log   *logger.Service
	shell *shell.Service
	keys  *keys.Service

	ticks  <-chan uint64
	events <-chan hal.KeyEvent
	serial <-chan []byte
}

// Starter returns the host entry point for cfg.
func Starter(cfg config.File) hal.NewApp {
	return func(h hal.HAL) (func() error, error) {
		return New(h, cfg)
	}
}

// New boots the OS on h and returns the function the host calls after
// every tick to deliver pending interrupts.
func New(h hal.HAL, cfg config.File) (step func() error, err error) {
	s, err := newSystem(h, cfg)
	if err != nil {
		return nil, err
	}
	return s.step, nil
}

func newSystem(h hal.HAL, cfg config.File) (*system, error) {
	kcfg, err := cfg.Kernel()
	if err != nil {
		return nil, err
	}
	s := &system{log: logger.New(h.Logger(), logger.Config{})}
	kcfg.Logger = s.log

	k, err := kernel.New(kcfg)
	if err != nil {
		return nil, err
	}
	s.k = k
	installPanicHandler(h, drivers.Rotation(cfg.Console.Rotation))

	errc := make(chan error, 1)
	if _, err := k.Boot(func(c *kernel.Context, _ any) any {
		errc <- s.start(c, h, cfg)
		return nil
	}, nil); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
	defer cancel()
	if err := k.WaitIdle(ctx); err != nil {
		return nil, fmt.Errorf("app: boot: %w", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("app: boot: init thread did not finish")
	}

	if t := h.Time(); t != nil {
		s.ticks = t.Ticks()
	}
	if in := h.Input(); in != nil && s.keys != nil {
		if kbd := in.Keyboard(); kbd != nil {
			s.events = kbd.Events()
		}
	}
	if ser := h.Serial(); ser != nil && s.shell != nil {
		s.serial = ser.Input()
	}
	return s, nil
}

// start runs on the init thread.
func (s *system) start(c *kernel.Context, h hal.HAL, cfg config.File) error {
	k := c.Kernel()
	if err := s.log.Start(k); err != nil {
		return err
	}
	if !cfg.Console.Enabled {
		return startDemos(k, console.Client{}, cfg.Demos)
	}

	var fb hal.Framebuffer
	if d := h.Display(); d != nil {
		fb = d.Framebuffer()
	}
	var mirror io.Writer
	if ser := h.Serial(); ser != nil {
		mirror = ser
	}
	out, err := console.New(fb, mirror, console.Config{
		Pending:  cfg.Console.Pending,
		Priority: cfg.Console.Priority,
		Rotation: drivers.Rotation(cfg.Console.Rotation),
	}).Start(k)
	if err != nil {
		return err
	}

	s.shell = shell.New(out, shell.Config{
		Prompt:   cfg.Console.Prompt,
		Priority: cfg.Console.Priority + 10,
	})
	if err := s.shell.Start(k); err != nil {
		return err
	}
	s.keys = keys.New(s.shell.Feed, keys.Config{})
	if err := s.keys.Start(k); err != nil {
		return err
	}

	if cfg.Monitor.Every > 0 {
		m := monitor.New(out, monitor.Config{Every: kernel.Ticks(cfg.Monitor.Every), Priority: cfg.Monitor.Priority})
		if err := m.Start(k); err != nil {
			return err
		}
	}
	if err := startDemos(k, out, cfg.Demos); err != nil {
		return err
	}
	k.Logger().Infof("services up: %d threads", len(k.Threads()))
	return nil
}

func startDemos(k *kernel.Kernel, out console.Client, names []string) error {
	for _, name := range names {
		d, ok := demo.Lookup(name)
		if !ok {
			return fmt.Errorf("app: unknown demo %q (have %v)", name, demo.Names())
		}
		if err := d.Start(k, out, kernel.TickRate); err != nil {
			return err
		}
	}
	return nil
}

// step delivers what the host has queued: clock ticks, key events and
// serial input, all in interrupt context. After a kernel panic the clock
// stops.
func (s *system) step() error {
	for {
		select {
		case now, ok := <-s.ticks:
			if !ok {
				s.ticks = nil
				continue
			}
			if !kernel.InPanicMode() {
				s.k.TickTo(kernel.Ticks(now))
			}
		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			s.keys.Handle(ev)
		case b, ok := <-s.serial:
			if !ok {
				s.serial = nil
				continue
			}
			if err := s.shell.Feed(s.k, b); err != nil {
				s.k.Logger().Debugf("serial input dropped: %v", err)
			}
		default:
			return nil
		}
	}
}
