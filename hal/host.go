//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Options configures the host HAL.
type Options struct {
	// Width and Height size the framebuffer. Zero disables the display.
	Width, Height int

	// TTY reads raw keys from the controlling terminal instead of lines
	// from standard input. Console output goes to the same terminal.
	TTY bool
	// TTYDevice opens a terminal other than the controlling one.
	TTYDevice string

	// SerialPort attaches the console to a serial device at SerialBaud.
	SerialPort string
	SerialBaud int

	// Color forces ("always", "never") or detects ("auto", "") coloured
	// log tags.
	Color string
}

type hostHAL struct {
	opts   Options
	logger *hostLogger
	fb     *hostFramebuffer
	kbd    *hostKeyboard
	t      *hostTime
	serial hostSerial
}

// New returns a host HAL implementation.
func New(opts Options) (HAL, error) {
	return newHostHAL(opts)
}

func newHostHAL(opts Options) (*hostHAL, error) {
	h := &hostHAL{
		opts:   opts,
		logger: newHostLogger(os.Stderr, opts.Color),
		kbd:    newHostKeyboard(),
		t:      newHostTime(),
	}
	if opts.Width > 0 && opts.Height > 0 {
		h.fb = newHostFramebuffer(opts.Width, opts.Height)
	}
	switch {
	case opts.SerialPort != "":
		s, err := openPortSerial(opts.SerialPort, opts.SerialBaud)
		if err != nil {
			return nil, err
		}
		h.serial = s
	case opts.TTY:
		k, err := openTTYKeys(opts.TTYDevice, h.kbd)
		if err != nil {
			return nil, err
		}
		h.serial = k
	default:
		h.serial = newStdioSerial(os.Stdin, os.Stdout)
	}
	return h, nil
}

func (h *hostHAL) Logger() Logger { return h.logger }
func (h *hostHAL) Time() Time     { return h.t }
func (h *hostHAL) Input() Input   { return hostInput{kbd: h.kbd} }

func (h *hostHAL) Display() Display {
	if h.fb == nil {
		return nil
	}
	return hostDisplay{fb: h.fb}
}

func (h *hostHAL) Serial() Serial {
	if h.serial == nil {
		return nil
	}
	return h.serial
}

func (h *hostHAL) close() {
	if h.serial != nil {
		_ = h.serial.Close()
	}
}

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostInput struct {
	kbd *hostKeyboard
}

func (in hostInput) Keyboard() Keyboard { return in.kbd }

// ANSI colours keyed by the level tag that starts each kernel log line.
var tagColors = []struct {
	tag   string
	color string
}{
	{"ERROR:", "\x1b[31m"},
	{" WARN:", "\x1b[33m"},
	{" INFO:", "\x1b[32m"},
	{"DEBUG:", "\x1b[90m"},
}

type hostLogger struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newHostLogger(f *os.File, mode string) *hostLogger {
	l := &hostLogger{w: f}
	switch mode {
	case "always":
		l.color = true
	case "never":
	default:
		l.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if l.color {
		l.w = colorable.NewColorable(f)
	}
	return l
}

func (l *hostLogger) WriteLineString(s string) {
	if l.color {
		s = colorize(s)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.WriteLineString(string(b))
}

func colorize(s string) string {
	for _, tc := range tagColors {
		if strings.HasPrefix(s, tc.tag) {
			return tc.color + tc.tag + "\x1b[0m" + s[len(tc.tag):]
		}
	}
	return s
}
