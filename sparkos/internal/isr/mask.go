// Package isr models the processor interrupt mask of a single-core machine.
//
// Thread goroutines and interrupt goroutines (timer, keyboard, serial) all
// serialize on one Mask. Holding it is the equivalent of running with
// interrupts disabled: sections must be short and must never block.
package isr

import (
	"sync"
	"time"
)

// Level is the token returned by Disable and handed back to Enable.
type Level uint64

// Stats describes how the mask has been used.
type Stats struct {
	Sections uint64
	Flashes  uint64
	MaxHold  time.Duration
}

// Mask is the interrupt mask. The zero value is enabled.
//
// Sections do not nest: a goroutine that already holds the mask must not
// call Disable again.
type Mask struct {
	mu    sync.Mutex
	since time.Time
	stats Stats
}

// Disable masks interrupts and returns the level to restore.
func (m *Mask) Disable() Level {
	m.mu.Lock()
	m.since = time.Now()
	m.stats.Sections++
	return Level(m.stats.Sections)
}

// Enable unmasks interrupts.
func (m *Mask) Enable(_ Level) {
	if d := time.Since(m.since); d > m.stats.MaxHold {
		m.stats.MaxHold = d
	}
	m.mu.Unlock()
}

// Flash briefly opens a window for pending interrupts and masks again.
func (m *Mask) Flash(l Level) Level {
	m.stats.Flashes++
	m.Enable(l)
	return m.Disable()
}

// Lock implements sync.Locker.
func (m *Mask) Lock() { m.Disable() }

// Unlock implements sync.Locker.
func (m *Mask) Unlock() { m.Enable(0) }

// Stats returns a snapshot of the mask statistics.
func (m *Mask) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Guard is a masked scope.
type Guard struct {
	m *Mask
	l Level
}

// Enter disables interrupts until Leave is called.
func (m *Mask) Enter() Guard { return Guard{m: m, l: m.Disable()} }

// Leave restores interrupts.
func (g Guard) Leave() { g.m.Enable(g.l) }
