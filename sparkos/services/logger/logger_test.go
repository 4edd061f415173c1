package logger

import (
	"strings"
	"testing"

	"sparkrt/sparkos/internal/ktest"
	"sparkrt/sparkos/kernel"
)

func TestLinesBeforeAndAfterStart(t *testing.T) {
	var lines ktest.Lines
	s := New(&lines, Config{MaxLine: 24})
	k := ktest.Boot(t, kernel.Config{Logger: s}, func(c *kernel.Context) {
		if err := s.Start(c.Kernel()); err != nil {
			t.Errorf("Start: %v", err)
		}
	})
	if !lines.Contains("kernel: ready") {
		t.Fatalf("expected boot lines written directly, got %q", lines.Get())
	}

	k.Logger().Infof("hello %d", 1)
	s.WriteLineString(strings.Repeat("x", 40))
	ktest.Settle(t, k)

	got := lines.Get()
	if len(got) < 2 || !strings.HasSuffix(got[len(got)-2], "kernel: hello 1") {
		t.Fatalf("expected queued line delivered, got %q", got)
	}
	if last := got[len(got)-1]; last != strings.Repeat("x", 24) {
		t.Fatalf("expected long line cut to 24 bytes, got %q", last)
	}
}

func TestFullQueueDropsAndReports(t *testing.T) {
	var lines ktest.Lines
	s := New(&lines, Config{Pending: 2})
	k := ktest.Boot(t, kernel.Config{}, func(c *kernel.Context) {
		if err := s.Start(c.Kernel()); err != nil {
			t.Errorf("Start: %v", err)
		}
	})
	id, ok := k.ThreadLookup("logger")
	if !ok {
		t.Fatalf("logger thread not found")
	}
	if err := k.ThreadSuspend(id); err != nil {
		t.Fatalf("ThreadSuspend: %v", err)
	}
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		s.WriteLineString(l)
	}
	if n := s.Dropped(); n != 3 {
		t.Fatalf("expected 3 drops, got %d", n)
	}

	if err := k.ThreadResume(id); err != nil {
		t.Fatalf("ThreadResume: %v", err)
	}
	ktest.Settle(t, k)
	got := strings.Join(lines.Get(), "\n")
	if !strings.HasPrefix(got, "a\n") || !strings.Contains(got, "logger: 3 line(s) dropped") || !strings.HasSuffix(got, "b") {
		t.Fatalf("unexpected output %q", got)
	}
}
