//go:build !tinygo && !cgo

package hal

import (
	"context"
	"fmt"
)

// RunWindow needs ebiten, which needs cgo on this platform.
func RunWindow(_ context.Context, _ Options, _ NewApp) error {
	return fmt.Errorf("window mode: %w without cgo (set CGO_ENABLED=1 or use -headless)", ErrNotImplemented)
}
