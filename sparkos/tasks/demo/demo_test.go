package demo

import (
	"strings"
	"testing"

	"sparkrt/sparkos/internal/ktest"
	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

func run(t *testing.T, name string, period kernel.Ticks) (*kernel.Kernel, *ktest.Buffer) {
	t.Helper()
	d, ok := Lookup(name)
	if !ok {
		t.Fatalf("demo %q not found", name)
	}
	mirror := &ktest.Buffer{}
	k := ktest.Boot(t, kernel.Config{}, func(c *kernel.Context) {
		out, err := console.New(nil, mirror, console.Config{}).Start(c.Kernel())
		if err != nil {
			t.Errorf("console: %v", err)
			return
		}
		if err := d.Start(c.Kernel(), out, period); err != nil {
			t.Errorf("Start: %v", err)
		}
	})
	return k, mirror
}

func TestNames(t *testing.T) {
	if got := strings.Join(Names(), " "); got != "cond inherit pipe" {
		t.Fatalf("expected sorted demo names, got %q", got)
	}
	if _, ok := Lookup("nope"); ok {
		t.Fatalf("expected unknown demo to be missing")
	}
}

func TestInheritBoostsHolder(t *testing.T) {
	k, mirror := run(t, "inherit", 20)
	if got := mirror.String(); got != "inherit: low holds the mutex at priority 90 (base 150)\n" {
		t.Fatalf("expected boosted holder, got %q", got)
	}

	ktest.Tick(t, k, holdTicks)
	want := "inherit: high waited 10 ticks\ninherit: low released, back to 150\n"
	if got := mirror.String(); !strings.HasSuffix(got, want) {
		t.Fatalf("expected release sequence, got %q", got)
	}

	ktest.Tick(t, k, 20)
	if n := strings.Count(mirror.String(), "low holds"); n != 2 {
		t.Fatalf("expected a second round, got %d", n)
	}
}

func TestPipeDeliversInOrder(t *testing.T) {
	k, mirror := run(t, "pipe", 5)
	ktest.Tick(t, k, 20)
	want := "pipe: consumed item 1\npipe: consumed item 2\npipe: consumed item 3\npipe: consumed item 4 (urgent)\n"
	if got := mirror.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCondWakesBothWaiters(t *testing.T) {
	k, mirror := run(t, "cond", 2)
	ktest.Tick(t, k, 5)
	if mirror.String() != "" {
		t.Fatalf("expected no wakeups before the count reaches 3, got %q", mirror.String())
	}
	ktest.Tick(t, k, 1)
	got := mirror.String()
	for _, want := range []string{"cond: cond-a woke at count 3\n", "cond: cond-b woke at count 3\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	ktest.Tick(t, k, 6)
	if n := strings.Count(mirror.String(), "woke at count 6"); n != 2 {
		t.Fatalf("expected both waiters at count 6, got %q", mirror.String())
	}
}
