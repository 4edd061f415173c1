package console

import (
	"image/color"

	"sparkrt/hal"

	"tinygo.org/x/drivers"
)

// fbDisplay adapts an RGB565 framebuffer to tinyterm, with the framebuffer
// optionally rotated in quarter turns.
type fbDisplay struct {
	fb  hal.Framebuffer
	rot drivers.Rotation
}

func newFBDisplay(fb hal.Framebuffer, rot drivers.Rotation) *fbDisplay {
	return &fbDisplay{fb: fb, rot: rot % 4}
}

// NewDisplayer returns fb as a tinygo displayer turned by rot, for code
// that draws outside the console.
func NewDisplayer(fb hal.Framebuffer, rot drivers.Rotation) drivers.Displayer {
	return newFBDisplay(fb, rot)
}

func (d *fbDisplay) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	w, h := int16(d.fb.Width()), int16(d.fb.Height())
	if d.rot == drivers.Rotation90 || d.rot == drivers.Rotation270 {
		return h, w
	}
	return w, h
}

// physical maps display coordinates to framebuffer coordinates.
func (d *fbDisplay) physical(x, y int) (int, int) {
	w, h := d.fb.Width(), d.fb.Height()
	switch d.rot {
	case drivers.Rotation90:
		return w - 1 - y, x
	case drivers.Rotation180:
		return w - 1 - x, h - 1 - y
	case drivers.Rotation270:
		return y, h - 1 - x
	default:
		return x, y
	}
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	if d.fb == nil {
		return
	}
	px, py := d.physical(int(x), int(y))
	hal.SetPixel(d.fb, px, py, c)
}

func (d *fbDisplay) Display() error {
	if d.fb == nil {
		return nil
	}
	return d.fb.Present()
}

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	if d.fb == nil || width <= 0 || height <= 0 {
		return nil
	}
	// Opposite corners map to opposite corners under any quarter turn.
	x0, y0 := d.physical(int(x), int(y))
	x1, y1 := d.physical(int(x)+int(width)-1, int(y)+int(height)-1)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	hal.FillRect(d.fb, x0, y0, x1-x0+1, y1-y0+1, c)
	return nil
}

// ScrollUp moves the picture up by lines display rows and clears the rows
// that come into view.
func (d *fbDisplay) ScrollUp(lines int16, bg color.RGBA) error {
	if d.fb == nil || lines <= 0 || d.fb.Format() != hal.PixelFormatRGB565 {
		return nil
	}
	w, h := d.Size()
	if lines >= h {
		return d.FillRectangle(0, 0, w, h, bg)
	}
	buf := d.fb.Buffer()
	if d.rot == drivers.Rotation0 {
		stride := d.fb.StrideBytes()
		n := int(lines) * stride
		if n < len(buf) {
			copy(buf, buf[n:])
		}
	} else {
		for y := 0; y < int(h-lines); y++ {
			for x := 0; x < int(w); x++ {
				dx, dy := d.physical(x, y)
				sx, sy := d.physical(x, y+int(lines))
				d.copyPixel(dx, dy, sx, sy, buf)
			}
		}
	}
	return d.FillRectangle(0, h-lines, w, lines, bg)
}

func (d *fbDisplay) copyPixel(dx, dy, sx, sy int, buf []byte) {
	stride := d.fb.StrideBytes()
	dst, src := dy*stride+dx*2, sy*stride+sx*2
	if dst < 0 || src < 0 || dst+1 >= len(buf) || src+1 >= len(buf) {
		return
	}
	buf[dst], buf[dst+1] = buf[src], buf[src+1]
}

func (d *fbDisplay) SetScroll(line int16) {
	_ = line
}

func (d *fbDisplay) SetRotation(rotation drivers.Rotation) error {
	d.rot = rotation % 4
	return nil
}
