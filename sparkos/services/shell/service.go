// Package shell is the kernel's interactive command line. It reads
// terminal bytes from a message queue fed by interrupt handlers, edits
// one line at a time and runs commands that inspect and steer the kernel.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/shlex"

	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

const (
	maxLine   = 256
	maxEscape = 16
)

// Config sizes the shell.
type Config struct {
	Name     string
	Priority kernel.Priority
	// Pending and MaxInput size the input queue.
	Pending  int
	MaxInput int
	Prompt   string
	History  int
	// Banner is printed when the shell starts. "-" prints nothing.
	Banner string
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "shell"
	}
	if c.Priority == 0 {
		c.Priority = 30
	}
	if c.Pending <= 0 {
		c.Pending = 32
	}
	if c.MaxInput <= 0 {
		c.MaxInput = 64
	}
	if c.Prompt == "" {
		c.Prompt = "\x1b[38;5;46m>\x1b[0m "
	}
	if c.History <= 0 {
		c.History = 32
	}
	if c.Banner == "" {
		c.Banner = "\x1b[38;5;39msparkrt shell\x1b[0m\nType `help`.\n\n"
	}
	return c
}

type Service struct {
	cfg Config
	out console.Client
	reg *registry
	in  kernel.QueueID

	w *bufio.Writer
	e env

	line []rune
	cur  int

	hist    []string
	histPos int
	draft   string

	pending []byte
}

// New returns a shell writing to out.
func New(out console.Client, cfg Config) *Service {
	s := &Service{cfg: cfg.withDefaults(), out: out, reg: newRegistry()}
	for _, cmd := range builtins() {
		if err := s.reg.register(cmd); err != nil {
			panic(err)
		}
	}
	return s
}

// Start creates the input queue and the shell thread.
func (s *Service) Start(k *kernel.Kernel) error {
	q, err := k.MessageQueueCreate(kernel.QueueAttr{
		Name:       s.cfg.Name + "-in",
		MaxPending: s.cfg.Pending,
		MaxSize:    s.cfg.MaxInput,
	})
	if err != nil {
		return fmt.Errorf("shell: queue: %w", err)
	}
	s.in = q

	id, err := k.ThreadCreate(kernel.ThreadAttr{
		Name:     s.cfg.Name,
		Priority: s.cfg.Priority,
		Entry:    s.run,
	})
	if err != nil {
		_ = k.MessageQueueDestroy(q)
		return fmt.Errorf("shell: thread: %w", err)
	}
	if err := k.ThreadStart(id); err != nil {
		return fmt.Errorf("shell: start: %w", err)
	}
	return nil
}

// Input returns the queue that carries terminal bytes to the shell.
func (s *Service) Input() kernel.QueueID { return s.in }

// Feed queues terminal bytes from interrupt context. Bytes that do not fit
// the queue are dropped.
func (s *Service) Feed(k *kernel.Kernel, b []byte) error {
	for len(b) > 0 {
		chunk := b
		if len(chunk) > s.cfg.MaxInput {
			chunk = chunk[:s.cfg.MaxInput]
		}
		if err := k.MessageQueueSendFromISR(s.in, chunk, kernel.PrioritySend); err != nil {
			return fmt.Errorf("shell input: %w", err)
		}
		b = b[len(chunk):]
	}
	return nil
}

func (s *Service) run(c *kernel.Context, _ any) any {
	s.w = bufio.NewWriterSize(s.out.Writer(c), 128)
	s.e = env{c: c, k: c.Kernel(), out: s.w, s: s}

	if s.cfg.Banner != "-" {
		s.writeString("\x1b[0m" + s.cfg.Banner)
	}
	s.prompt()
	s.flush()

	buf := make([]byte, s.cfg.MaxInput)
	for {
		n, err := c.MessageQueueReceive(s.in, buf, true, kernel.NoTimeout)
		if err != nil {
			if !errors.Is(err, kernel.ErrObjectWasDeleted) {
				c.Kernel().Logger().Errorf("shell: receive: %v", err)
			}
			return nil
		}
		s.handleInput(buf[:n])
		s.flush()
	}
}

func (s *Service) flush() {
	if err := s.w.Flush(); err != nil {
		s.e.k.Logger().Warnf("shell: output: %v", err)
		s.w.Reset(s.out.Writer(s.e.c))
	}
}

func (s *Service) writeString(str string) { _, _ = s.w.WriteString(str) }

func (s *Service) prompt() { s.writeString(s.cfg.Prompt) }

func (s *Service) handleInput(b []byte) {
	s.pending = append(s.pending, b...)
	b = s.pending

	for len(b) > 0 {
		if b[0] == 0x1b {
			n, act := parseEscape(b)
			if n == 0 {
				if len(b) > maxEscape {
					b = b[1:]
					continue
				}
				break
			}
			b = b[n:]
			s.escape(act)
			continue
		}

		switch b[0] {
		case '\r':
			b = b[1:]
		case '\n':
			b = b[1:]
			s.submit()
		case 0x7f, 0x08:
			b = b[1:]
			s.backspace()
		case 0x01: // ^A
			b = b[1:]
			s.moveTo(0)
		case 0x05: // ^E
			b = b[1:]
			s.moveTo(len(s.line))
		case 0x03: // ^C
			b = b[1:]
			s.writeString("^C\n")
			s.line, s.cur = s.line[:0], 0
			s.histPos = len(s.hist)
			s.prompt()
		case 0x15: // ^U
			b = b[1:]
			s.line = append(s.line[:0], s.line[s.cur:]...)
			s.cur = 0
			s.redraw()
		case 0x0c: // ^L
			b = b[1:]
			s.flush()
			_ = s.out.Clear(s.e.c)
			s.prompt()
			s.redraw()
		case '\t':
			b = b[1:]
			s.complete()
		default:
			if !utf8.FullRune(b) {
				s.pending = append(s.pending[:0], b...)
				return
			}
			r, sz := utf8.DecodeRune(b)
			b = b[sz:]
			if (r == utf8.RuneError && sz == 1) || r < 0x20 {
				continue
			}
			s.insert(r)
		}
	}
	s.pending = append(s.pending[:0], b...)
}

func (s *Service) escape(act escAction) {
	switch act {
	case escLeft:
		s.moveTo(s.cur - 1)
	case escRight:
		s.moveTo(s.cur + 1)
	case escHome:
		s.moveTo(0)
	case escEnd:
		s.moveTo(len(s.line))
	case escDelete:
		if s.cur < len(s.line) {
			s.line = append(s.line[:s.cur], s.line[s.cur+1:]...)
			s.redraw()
		}
	case escUp:
		s.recall(-1)
	case escDown:
		s.recall(1)
	}
}

func (s *Service) insert(r rune) {
	if len(s.line) >= maxLine {
		return
	}
	if s.cur == len(s.line) {
		s.line = append(s.line, r)
		s.cur++
		s.writeString(string(r))
		return
	}
	s.line = append(s.line, 0)
	copy(s.line[s.cur+1:], s.line[s.cur:])
	s.line[s.cur] = r
	s.cur++
	s.redraw()
}

func (s *Service) backspace() {
	if s.cur == 0 {
		return
	}
	if s.cur == len(s.line) {
		s.line = s.line[:len(s.line)-1]
		s.cur--
		s.writeString("\x1b[D \x1b[D")
		return
	}
	s.line = append(s.line[:s.cur-1], s.line[s.cur:]...)
	s.cur--
	s.redraw()
}

func (s *Service) moveTo(pos int) {
	if pos < 0 || pos > len(s.line) || pos == s.cur {
		return
	}
	s.cur = pos
	s.writeString(fmt.Sprintf("\x1b[%dG", s.column(pos)))
}

// redraw rewrites the line after the prompt and puts the cursor back.
func (s *Service) redraw() {
	s.writeString(fmt.Sprintf("\x1b[%dG%s\x1b[K\x1b[%dG", s.column(0), string(s.line), s.column(s.cur)))
}

// column is the 1-based screen column of line position pos.
func (s *Service) column(pos int) int {
	return visibleWidth(s.cfg.Prompt) + pos + 1
}

// visibleWidth counts the runes of str outside escape sequences.
func visibleWidth(str string) int {
	n := 0
	b := []byte(str)
	for len(b) > 0 {
		if b[0] == 0x1b {
			if skip := consumeEscape(b); skip > 0 {
				b = b[skip:]
				continue
			}
			break
		}
		_, sz := utf8.DecodeRune(b)
		b = b[sz:]
		n++
	}
	return n
}

func (s *Service) recall(dir int) {
	pos := s.histPos + dir
	if pos < 0 || pos > len(s.hist) {
		return
	}
	if s.histPos == len(s.hist) {
		s.draft = string(s.line)
	}
	s.histPos = pos
	text := s.draft
	if pos < len(s.hist) {
		text = s.hist[pos]
	}
	s.line = append(s.line[:0], []rune(text)...)
	s.cur = len(s.line)
	s.redraw()
}

func (s *Service) remember(line string) {
	if n := len(s.hist); n > 0 && s.hist[n-1] == line {
		s.histPos = len(s.hist)
		return
	}
	s.hist = append(s.hist, line)
	if len(s.hist) > s.cfg.History {
		s.hist = s.hist[len(s.hist)-s.cfg.History:]
	}
	s.histPos = len(s.hist)
}

// complete extends a unique command prefix, or lists the candidates.
func (s *Service) complete() {
	if s.cur != len(s.line) || strings.ContainsRune(string(s.line), ' ') {
		return
	}
	prefix := string(s.line)
	m := s.reg.matches(prefix)
	switch len(m) {
	case 0:
	case 1:
		for _, r := range m[0][len(prefix):] + " " {
			s.insert(r)
		}
	default:
		s.writeString("\n" + strings.Join(m, " ") + "\n")
		s.prompt()
		s.redraw()
	}
}

func (s *Service) submit() {
	s.writeString("\n")

	line := strings.TrimSpace(string(s.line))
	s.line, s.cur = s.line[:0], 0
	s.draft = ""
	if line != "" {
		s.remember(line)
		if err := s.exec(line); err != nil {
			s.writeString(err.Error() + "\n")
		}
	}
	s.prompt()
}

func (s *Service) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %v", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := s.reg.resolve(args[0])
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	if len(args)-1 < cmd.MinArgs {
		return fmt.Errorf("usage: %s", cmd.Usage)
	}
	if err := cmd.Run(s.e, args[1:]); err != nil {
		return fmt.Errorf("%s: %v", cmd.Name, err)
	}
	return nil
}
