package shell

import (
	"strconv"
	"strings"
	"testing"

	"sparkrt/sparkos/internal/klog"
	"sparkrt/sparkos/internal/ktest"
	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

func TestParseEscape(t *testing.T) {
	tcs := []struct {
		in   string
		n    int
		want escAction
	}{
		{"\x1b[A", 3, escUp},
		{"\x1b[Dxyz", 3, escLeft},
		{"\x1bOH", 3, escHome},
		{"\x1b[3~", 4, escDelete},
		{"\x1b[4~", 4, escEnd},
		{"\x1b[1;5C", 6, escNone},
		{"\x1b[", 0, escNone},
		{"\x1b[12", 0, escNone},
		{"\x1bx", 2, escNone},
	}
	for _, tc := range tcs {
		n, act := parseEscape([]byte(tc.in))
		if n != tc.n || act != tc.want {
			t.Fatalf("parseEscape(%q) = %d, %d; want %d, %d", tc.in, n, act, tc.n, tc.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := newRegistry()
	noop := func(env, []string) error { return nil }
	if err := r.register(command{Name: "stats", Aliases: []string{"st"}, Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.register(command{Name: "stop", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.register(command{Name: "other", Aliases: []string{"st"}, Run: noop}); err == nil {
		t.Fatalf("expected duplicate alias to be rejected")
	}
	if err := r.register(command{Name: "nil"}); err == nil {
		t.Fatalf("expected command without handler to be rejected")
	}
	if cmd, ok := r.resolve("st"); !ok || cmd.Name != "stats" {
		t.Fatalf("expected alias to resolve to stats, got %q %v", cmd.Name, ok)
	}
	if got := strings.Join(r.matches("st"), " "); got != "st stats stop" {
		t.Fatalf("expected matches %q, got %q", "st stats stop", got)
	}
	if all := r.sorted(); len(all) != 2 || all[0].Name != "stats" || all[1].Name != "stop" {
		t.Fatalf("expected stats and stop, got %+v", all)
	}
}

func TestVisibleWidth(t *testing.T) {
	if n := visibleWidth("\x1b[38;5;46m>\x1b[0m "); n != 2 {
		t.Fatalf("expected width 2, got %d", n)
	}
	if n := visibleWidth("héllo"); n != 5 {
		t.Fatalf("expected width 5, got %d", n)
	}
}

type rig struct {
	t      *testing.T
	k      *kernel.Kernel
	sh     *Service
	mirror *ktest.Buffer
}

func boot(t *testing.T, body func(c *kernel.Context)) *rig {
	r := &rig{t: t, mirror: &ktest.Buffer{}}
	r.k = ktest.Boot(t, kernel.Config{}, func(c *kernel.Context) {
		out, err := console.New(nil, r.mirror, console.Config{}).Start(c.Kernel())
		if err != nil {
			t.Errorf("console: %v", err)
			return
		}
		r.sh = New(out, Config{Prompt: "> ", Banner: "-"})
		if err := r.sh.Start(c.Kernel()); err != nil {
			t.Errorf("shell: %v", err)
			return
		}
		if body != nil {
			body(c)
		}
	})
	if r.sh == nil {
		t.FailNow()
	}
	return r
}

// typeIn feeds input as the keyboard interrupt would and returns what the
// shell printed in response.
func (r *rig) typeIn(s string) string {
	r.t.Helper()
	before := len(r.mirror.String())
	if err := r.sh.Feed(r.k, []byte(s)); err != nil {
		r.t.Fatalf("Feed: %v", err)
	}
	ktest.Settle(r.t, r.k)
	return r.mirror.String()[before:]
}

func TestShellRunsCommands(t *testing.T) {
	r := boot(t, nil)
	if got := r.mirror.String(); got != "> " {
		t.Fatalf("expected a bare prompt, got %q", got)
	}

	if got := r.typeIn("echo 'hi  there' x\n"); got != "echo 'hi  there' x\nhi  there x\n> " {
		t.Fatalf("unexpected echo output %q", got)
	}
	if got := r.typeIn("bogus\n"); !strings.Contains(got, "unknown command: bogus") {
		t.Fatalf("expected unknown command error, got %q", got)
	}
	if got := r.typeIn("prio\n"); !strings.Contains(got, "usage: prio <thread> <0-254>") {
		t.Fatalf("expected usage, got %q", got)
	}

	got := r.typeIn("ps\n")
	for _, want := range []string{"NAME", "console", "shell", "idle", "message"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in ps output %q", want, got)
		}
	}
	if got := r.typeIn("queues\n"); !strings.Contains(got, "shell-in") {
		t.Fatalf("expected the input queue listed, got %q", got)
	}
	if got := r.typeIn("heap\n"); !strings.Contains(got, "size    256.00KB") {
		t.Fatalf("expected workspace size, got %q", got)
	}
	if got := r.typeIn("prio console 25\n"); !strings.Contains(got, "console: 20 -> 25") {
		t.Fatalf("expected priority change, got %q", got)
	}
	if got := r.typeIn("log\n"); !strings.Contains(got, "log level info") {
		t.Fatalf("expected default log level, got %q", got)
	}
	if got := r.typeIn("log error\n"); !strings.Contains(got, "log level error") || r.k.Logger().Enabled(klog.InfoMask) {
		t.Fatalf("expected info logging off, got %q", got)
	}
}

func TestShellLineEditing(t *testing.T) {
	r := boot(t, nil)

	// "eco", cursor left, insert h, end, rest of the line.
	if got := r.typeIn("eco\x1b[Dh\x1b[F ok\n"); !strings.HasSuffix(got, "\nok\n> ") {
		t.Fatalf("expected edited line to run, got %q", got)
	}
	if got := r.typeIn("echo abcd\x7f\x7fx\n"); !strings.HasSuffix(got, "\nabx\n> ") {
		t.Fatalf("expected backspace to erase, got %q", got)
	}

	// Split escape sequence across two interrupts.
	r.typeIn("echo one\n")
	r.typeIn("\x1b[")
	if got := r.typeIn("A\n"); !strings.HasSuffix(got, "\none\n> ") {
		t.Fatalf("expected history recall, got %q", got)
	}
	if got := r.typeIn("history\n"); !strings.Contains(got, "3  echo one") || strings.Contains(got, "4  echo one") {
		t.Fatalf("expected repeated line stored once, got %q", got)
	}

	if got := r.typeIn("vers\t\n"); !strings.Contains(got, "sparkrt ") {
		t.Fatalf("expected completion to run version, got %q", got)
	}
	if got := r.typeIn("junk\x03"); !strings.HasSuffix(got, "^C\n> ") {
		t.Fatalf("expected ^C to drop the line, got %q", got)
	}
}

func TestShellControlsThreads(t *testing.T) {
	r := boot(t, func(c *kernel.Context) {
		id, err := c.ThreadCreate(kernel.ThreadAttr{Name: "sleeper", Priority: 50, Entry: func(c *kernel.Context, _ any) any {
			_ = c.Sleep(1 << 30)
			return nil
		}})
		if err != nil {
			t.Errorf("ThreadCreate: %v", err)
			return
		}
		_ = c.ThreadStart(id)
	})
	id, ok := r.k.ThreadLookup("sleeper")
	if !ok {
		t.Fatalf("sleeper not found")
	}

	r.typeIn("suspend sleeper\n")
	info, _ := r.k.ThreadInfo(id)
	if info.State&kernel.StateSuspended == 0 {
		t.Fatalf("expected sleeper suspended, got %s", info.State)
	}
	r.typeIn("resume " + strconv.Itoa(kernel.ObjectID(id).Index()) + "\n")
	info, _ = r.k.ThreadInfo(id)
	if info.State&kernel.StateSuspended != 0 {
		t.Fatalf("expected sleeper resumed by index, got %s", info.State)
	}

	if got := r.typeIn("suspend shell\n"); !strings.Contains(got, "refusing") {
		t.Fatalf("expected the shell to refuse suspending itself, got %q", got)
	}
	if got := r.typeIn("delete sleeper\n"); !strings.Contains(got, "IncorrectState") {
		t.Fatalf("expected delete of a live thread to fail, got %q", got)
	}
	if got := r.typeIn("resume nobody\n"); !strings.Contains(got, `no thread "nobody"`) {
		t.Fatalf("expected lookup failure, got %q", got)
	}
}
