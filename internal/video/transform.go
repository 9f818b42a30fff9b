package video

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Options controls the per-frame adjustments applied while loading, in the
// order resize, rotate, crop.
type Options struct {
	// Crop is [y1, y2, x1, x2]; -1 on an upper bound means the frame edge.
	Crop         [4]int
	ResizeFactor int
	Rotate       bool
}

// DefaultOptions leaves frames untouched.
func DefaultOptions() Options {
	return Options{Crop: [4]int{0, -1, 0, -1}, ResizeFactor: 1}
}

// Apply returns the adjusted frame. src itself is never modified; when no
// adjustment applies it is returned as is.
func (o Options) Apply(src *image.RGBA) (*image.RGBA, error) {
	img := src
	if o.ResizeFactor > 1 {
		b := img.Bounds()
		w, h := b.Dx()/o.ResizeFactor, b.Dy()/o.ResizeFactor
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("resize factor %d too large for %dx%d frame", o.ResizeFactor, b.Dx(), b.Dy())
		}
		img = Resize(img, w, h)
	}
	if o.Rotate {
		img = RotateClockwise(img)
	}
	return CropRect(img, o.Crop)
}

// Resize scales src to w x h with bilinear interpolation.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// RotateClockwise rotates src by 90 degrees clockwise.
func RotateClockwise(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for dy := range w {
		for dx := range h {
			si := src.PixOffset(b.Min.X+dy, b.Min.Y+h-1-dx)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// CropRect copies the [y1, y2, x1, x2] region of src into a new image anchored
// at the origin. Upper bounds of -1 or beyond the frame resolve to the edge.
func CropRect(src *image.RGBA, rect [4]int) (*image.RGBA, error) {
	b := src.Bounds()
	y1, y2, x1, x2 := rect[0], rect[1], rect[2], rect[3]
	if y2 == -1 || y2 > b.Dy() {
		y2 = b.Dy()
	}
	if x2 == -1 || x2 > b.Dx() {
		x2 = b.Dx()
	}
	y1, x1 = max(y1, 0), max(x1, 0)
	if x2 <= x1 || y2 <= y1 {
		return nil, fmt.Errorf("crop %v is empty for %dx%d frame", rect, b.Dx(), b.Dy())
	}
	if x1 == 0 && y1 == 0 && x2 == b.Dx() && y2 == b.Dy() && b.Min == (image.Point{}) {
		return src, nil
	}
	r := image.Rect(x1, y1, x2, y2).Add(b.Min)
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, src, r, draw.Src, nil)
	return dst, nil
}

// Clone returns a deep copy of src anchored at the origin.
func Clone(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return dst
}
