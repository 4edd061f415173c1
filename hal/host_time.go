//go:build !tinygo

package hal

import "time"

// TickPeriod is the length of one kernel tick on the host.
const TickPeriod = time.Millisecond

// hostTime turns wall time into absolute tick counts. step is called by
// the runner at its own rate and publishes the count when it moved.
type hostTime struct {
	ch    chan uint64
	start time.Time
	last  uint64
	now   func() time.Time
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 64), now: time.Now}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

func (t *hostTime) step() {
	now := t.now()
	if t.start.IsZero() {
		t.start = now
	}
	seq := uint64(now.Sub(t.start) / TickPeriod)
	if seq <= t.last {
		return
	}
	t.last = seq
	// Dropped when the consumer is behind; later steps send larger counts.
	select {
	case t.ch <- seq:
	default:
	}
}
