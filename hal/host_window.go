//go:build !tinygo && cgo

package hal

import (
	"context"
	"errors"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/sync/errgroup"

	"sparkrt/internal/buildinfo"
)

// RunWindow opens a desktop window that shows the framebuffer and
// forwards keyboard input. It blocks until the window closes.
func RunWindow(ctx context.Context, opts Options, newApp NewApp) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 320, 320
	}
	h, err := newHostHAL(opts)
	if err != nil {
		return err
	}
	defer h.close()

	step, err := newApp(h)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	if h.serial != nil {
		g.Go(func() error { return h.serial.run(gctx) })
	}

	game := &hostGame{h: h, step: step, ctx: gctx}
	ebiten.SetWindowTitle("Spark RT (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(h.fb.width*2, h.fb.height*2)
	ebiten.SetTPS(60)
	err = ebiten.RunGame(game)

	cancel()
	if werr := g.Wait(); err == nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	if errors.Is(err, ebiten.Termination) {
		err = nil
	}
	return err
}

type hostGame struct {
	h     *hostHAL
	ctx   context.Context
	step  func() error
	pix   []byte
	img   *ebiten.Image
	shown uint64
}

func (g *hostGame) Update() error {
	if err := g.ctx.Err(); err != nil {
		if cause := context.Cause(g.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return ebiten.Termination
	}
	pollEbiten(g.h.kbd)
	g.h.t.step()
	if g.step != nil {
		return g.step()
	}
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil {
		g.pix = make([]byte, fb.width*fb.height*4)
		g.img = ebiten.NewImage(fb.width, fb.height)
		g.shown = ^uint64(0)
	}
	if frame := fb.snapshotRGBA(g.pix); frame != g.shown {
		g.img.WritePixels(g.pix)
		g.shown = frame
	}
	screen.DrawImage(g.img, nil)
}

func (g *hostGame) Layout(_, _ int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
