package monitor

import (
	"strings"
	"testing"

	"sparkrt/sparkos/internal/ktest"
	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

func TestMonitorReportsEveryInterval(t *testing.T) {
	var mirror ktest.Buffer
	k := ktest.Boot(t, kernel.Config{}, func(c *kernel.Context) {
		out, err := console.New(nil, &mirror, console.Config{}).Start(c.Kernel())
		if err != nil {
			t.Errorf("console: %v", err)
			return
		}
		if err := New(out, Config{Every: 10}).Start(c.Kernel()); err != nil {
			t.Errorf("Start: %v", err)
		}
	})
	if mirror.String() != "" {
		t.Fatalf("expected no report before the first interval, got %q", mirror.String())
	}

	ktest.Tick(t, k, 10)
	got := mirror.String()
	if !strings.HasPrefix(got, "-- tick 10,") {
		t.Fatalf("expected a report at tick 10, got %q", got)
	}
	for _, want := range []string{"console", "monitor", "idle"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in report %q", want, got)
		}
	}

	ktest.Tick(t, k, 20)
	if n := strings.Count(mirror.String(), "-- tick "); n != 3 {
		t.Fatalf("expected 3 reports after 30 ticks, got %d", n)
	}
}

func TestReportShowsBoostedPriority(t *testing.T) {
	var report string
	ktest.Boot(t, kernel.Config{}, func(c *kernel.Context) {
		m, err := c.MutexCreate(kernel.MutexAttr{Name: "m", Protocol: kernel.MutexInherit}, true)
		if err != nil {
			t.Errorf("MutexCreate: %v", err)
			return
		}
		id, _ := c.ThreadCreate(kernel.ThreadAttr{Name: "urgent", Priority: 10, Entry: func(c *kernel.Context, _ any) any {
			_ = c.MutexLock(m, true, kernel.NoTimeout)
			return c.MutexUnlock(m)
		}})
		_ = c.ThreadStart(id)
		report = Report(c.Kernel())
		_ = c.MutexUnlock(m)
	})
	if !strings.Contains(report, "init         10(100)") {
		t.Fatalf("expected init boosted to 10 from 100, got %q", report)
	}
	if !strings.Contains(report, "urgent       10       mutex") {
		t.Fatalf("expected urgent waiting on the mutex, got %q", report)
	}
}
