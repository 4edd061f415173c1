// Package console is the kernel's terminal. A console thread drains a
// message queue of output chunks into a tinyterm terminal drawn on the
// framebuffer and mirrors the raw bytes to a host writer.
package console

import (
	"errors"
	"fmt"
	"io"

	"sparkrt/hal"
	"sparkrt/sparkos/kernel"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

// Message kinds, carried in the first byte of each queue message.
const (
	kindWrite byte = 'w'
	kindClear byte = 'c'
)

// Config sizes the console.
type Config struct {
	Name string
	// Pending is the depth of the output queue.
	Pending int
	// MaxChunk is the largest payload of a single message.
	MaxChunk int
	Priority kernel.Priority
	Rotation drivers.Rotation
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "console"
	}
	if c.Pending <= 0 {
		c.Pending = 32
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = 128
	}
	if c.Priority == 0 {
		c.Priority = 20
	}
	return c
}

type Service struct {
	cfg    Config
	fb     hal.Framebuffer
	mirror io.Writer

	q kernel.QueueID
	d *fbDisplay
	t *tinyterm.Terminal
}

// New returns a console drawing on fb and copying output to mirror.
// Either may be nil.
func New(fb hal.Framebuffer, mirror io.Writer, cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults(), fb: fb, mirror: mirror}
}

// Start creates the output queue and the console thread.
func (s *Service) Start(k *kernel.Kernel) (Client, error) {
	q, err := k.MessageQueueCreate(kernel.QueueAttr{
		Name:       s.cfg.Name,
		MaxPending: s.cfg.Pending,
		MaxSize:    s.cfg.MaxChunk + 1,
	})
	if err != nil {
		return Client{}, fmt.Errorf("console: queue: %w", err)
	}
	s.q = q

	id, err := k.ThreadCreate(kernel.ThreadAttr{
		Name:     s.cfg.Name,
		Priority: s.cfg.Priority,
		Entry:    s.run,
	})
	if err != nil {
		_ = k.MessageQueueDestroy(q)
		return Client{}, fmt.Errorf("console: thread: %w", err)
	}
	if err := k.ThreadStart(id); err != nil {
		return Client{}, fmt.Errorf("console: start: %w", err)
	}
	return Client{q: q, max: s.cfg.MaxChunk}, nil
}

func (s *Service) run(c *kernel.Context, _ any) any {
	if s.fb != nil {
		s.d = newFBDisplay(s.fb, s.cfg.Rotation)
		s.reset()
	}

	buf := make([]byte, s.cfg.MaxChunk+1)
	for {
		n, err := c.MessageQueueReceive(s.q, buf, true, kernel.NoTimeout)
		if err != nil {
			if !errors.Is(err, kernel.ErrObjectWasDeleted) {
				c.Kernel().Logger().Errorf("console: receive: %v", err)
			}
			return nil
		}
		s.handle(buf[:n])

		// Drain what is already queued before drawing the frame.
		for {
			n, err = c.MessageQueueReceive(s.q, buf, false, kernel.NoTimeout)
			if err != nil {
				break
			}
			s.handle(buf[:n])
		}
		if s.t != nil {
			s.t.Display()
		}
	}
}

func (s *Service) handle(msg []byte) {
	if len(msg) == 0 {
		return
	}
	switch msg[0] {
	case kindWrite:
		if s.t != nil {
			_, _ = s.t.Write(msg[1:])
		}
		if s.mirror != nil {
			_, _ = s.mirror.Write(msg[1:])
		}
	case kindClear:
		if s.d != nil {
			s.reset()
		}
		if s.mirror != nil {
			_, _ = io.WriteString(s.mirror, "\x1b[2J\x1b[H")
		}
	}
}

func (s *Service) reset() {
	font := &proggy.TinySZ8pt7b
	height, offset := FontMetrics(font)
	s.t = tinyterm.NewTerminal(s.d)
	s.t.Configure(&tinyterm.Config{
		Font:              font,
		FontHeight:        height,
		FontOffset:        offset,
		UseSoftwareScroll: true,
	})
	s.fb.ClearRGB(0, 0, 0)
	_ = s.fb.Present()
}

// FontMetrics returns the line height of font and the baseline offset
// that keeps the tallest printable glyph inside its line.
func FontMetrics(font tinyfont.Fonter) (height, offset int16) {
	height = int16(font.GetYAdvance())
	for r := rune(0x21); r < 0x7f; r++ {
		if top := -int16(font.GetGlyph(r).Info().YOffset); top > offset {
			offset = top
		}
	}
	if offset > height {
		offset = height
	}
	return height, offset
}
