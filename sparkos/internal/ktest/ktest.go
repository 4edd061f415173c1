// Package ktest boots kernels for service tests. The test goroutine plays
// the timer interrupt.
package ktest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"sparkrt/sparkos/kernel"
)

// Boot creates a kernel and boots it with body as the init thread. A nil
// body boots the idle thread only.
func Boot(t testing.TB, cfg kernel.Config, body func(c *kernel.Context)) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(cfg)
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	var entry kernel.ThreadFunc
	if body != nil {
		entry = func(c *kernel.Context, _ any) any {
			body(c)
			return nil
		}
	}
	if _, err := k.Boot(entry, nil); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	Settle(t, k)
	return k
}

// Settle waits until every kernel thread is blocked.
func Settle(t testing.TB, k *kernel.Kernel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.WaitIdle(ctx); err != nil {
		t.Fatalf("kernel did not settle: %v", err)
	}
}

// Tick delivers n timer interrupts, settling after each.
func Tick(t testing.TB, k *kernel.Kernel, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		k.Tick()
		Settle(t, k)
	}
}

// Lines is a line sink that remembers what it was given.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

func (l *Lines) WriteLineString(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func (l *Lines) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

// Get returns a copy of the lines written so far.
func (l *Lines) Get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Contains reports whether some line contains sub.
func (l *Lines) Contains(sub string) bool {
	for _, ln := range l.Get() {
		if strings.Contains(ln, sub) {
			return true
		}
	}
	return false
}

// Buffer is a goroutine safe byte sink.
type Buffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}
