//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// NewApp starts the OS on h and returns the step function the runner
// calls after every host tick.
type NewApp func(h HAL) (step func() error, err error)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	// Hz is the rate at which the runner steps the clock and the app.
	Hz int
	// Ticks stops the runner once the clock reaches it (0 = run forever).
	Ticks uint64
}

var errTickLimit = errors.New("tick limit reached")

// RunHeadless runs the OS without opening a window. The tick pump and the
// console reader (terminal keys or serial bytes) run side by side; the
// first to fail stops the other.
func RunHeadless(ctx context.Context, opts Options, newApp NewApp, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 100
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	opts.Width, opts.Height = 0, 0
	h, err := newHostHAL(opts)
	if err != nil {
		return err
	}
	defer h.close()

	step, err := newApp(h)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if h.serial != nil {
		g.Go(func() error { return h.serial.run(ctx) })
	}
	g.Go(func() error { return pumpTicks(ctx, h, step, d, cfg.Ticks) })

	err = g.Wait()
	if errors.Is(err, errTickLimit) {
		return nil
	}
	return err
}

func pumpTicks(ctx context.Context, h *hostHAL, step func() error, d time.Duration, limit uint64) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			h.t.step()
			if step != nil {
				if err := step(); err != nil {
					return err
				}
			}
			if limit > 0 && h.t.last >= limit {
				return errTickLimit
			}
		}
	}
}
