package keys

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"sparkrt/hal"
	"sparkrt/sparkos/internal/ktest"
	"sparkrt/sparkos/kernel"
)

type collector struct {
	mu  sync.Mutex
	out []string
}

func (c *collector) sink(_ *kernel.Kernel, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, string(b))
	return nil
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.out, "")
}

func TestVT100FromKey(t *testing.T) {
	tcs := []struct {
		ev   hal.KeyEvent
		want string
	}{
		{hal.KeyEvent{Rune: 'é', Press: true}, "é"},
		{hal.KeyEvent{Code: hal.KeyEnter, Press: true}, "\n"},
		{hal.KeyEvent{Code: hal.KeyBackspace, Press: true}, "\x7f"},
		{hal.KeyEvent{Code: hal.KeyDelete, Press: true}, "\x1b[3~"},
		{hal.KeyEvent{Code: hal.KeyF1, Press: true}, "\x1bOP"},
		{hal.KeyEvent{Code: hal.KeyUnknown, Press: true}, ""},
	}
	for _, tc := range tcs {
		if got := string(vt100FromKey(tc.ev)); got != tc.want {
			t.Fatalf("vt100FromKey(%+v) = %q; want %q", tc.ev, got, tc.want)
		}
	}
}

func TestHeldKeyRepeats(t *testing.T) {
	var c collector
	k := ktest.Boot(t, kernel.Config{}, nil)
	s := New(c.sink, Config{})
	if err := s.Start(k); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := k.Now()
	s.Handle(hal.KeyEvent{Code: hal.KeyLeft, Press: true})
	if got := c.String(); got != "\x1b[D" {
		t.Fatalf("expected one sequence on press, got %q", got)
	}

	k.TickTo(base + 349)
	ktest.Settle(t, k)
	if got := strings.Count(c.String(), "\x1b[D"); got != 1 {
		t.Fatalf("expected no repeat before the delay, got %d", got)
	}
	k.TickTo(base + 350 + 2*60)
	ktest.Settle(t, k)
	if got := strings.Count(c.String(), "\x1b[D"); got != 4 {
		t.Fatalf("expected three repeats, got %d", got)
	}

	// Releasing another key leaves the repeat running.
	s.Handle(hal.KeyEvent{Code: hal.KeyRight})
	k.TickTo(base + 350 + 3*60)
	ktest.Settle(t, k)
	if got := strings.Count(c.String(), "\x1b[D"); got != 5 {
		t.Fatalf("expected the repeat to survive another key's release, got %d", got)
	}
	s.Handle(hal.KeyEvent{Code: hal.KeyLeft})
	k.TickTo(base + 1000)
	ktest.Settle(t, k)
	if got := strings.Count(c.String(), "\x1b[D"); got != 5 {
		t.Fatalf("expected repeat to stop on release, got %d", got)
	}

	s.Handle(hal.KeyEvent{Rune: 'x', Press: true})
	k.TickTo(base + 2000)
	ktest.Settle(t, k)
	if !strings.HasSuffix(c.String(), "\x1b[Dx") {
		t.Fatalf("expected text keys not to repeat, got %q", c.String())
	}
}

func TestDroppedCounted(t *testing.T) {
	k := ktest.Boot(t, kernel.Config{}, nil)
	s := New(func(*kernel.Kernel, []byte) error { return errors.New("full") }, Config{})
	if err := s.Start(k); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Handle(hal.KeyEvent{Rune: 'a', Press: true})
	s.Handle(hal.KeyEvent{Code: hal.KeyEnter, Press: true})
	if n := s.Dropped(); n != 2 {
		t.Fatalf("expected 2 drops, got %d", n)
	}
}
