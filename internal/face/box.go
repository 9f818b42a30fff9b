package face

import "image"

// Box is a frame-local face rectangle in pixel coordinates. X2 and Y2 are
// exclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent of the box in pixels.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box in pixels.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Detection is the detector's answer for one frame. Found is false when the
// frame holds no face.
type Detection struct {
	Box   Box  `json:"box"`
	Found bool `json:"found"`
}

// Pads extends a box by [top, bottom, left, right] pixels.
type Pads [4]int

// expand grows b by p and clamps it to a width x height frame.
func (p Pads) expand(b Box, width, height int) Box {
	return clamp(Box{
		X1: b.X1 - p[2],
		Y1: b.Y1 - p[0],
		X2: b.X2 + p[3],
		Y2: b.Y2 + p[1],
	}, width, height)
}

func clamp(b Box, width, height int) Box {
	return Box{
		X1: min(max(b.X1, 0), width),
		Y1: min(max(b.Y1, 0), height),
		X2: min(max(b.X2, 0), width),
		Y2: min(max(b.Y2, 0), height),
	}
}

// FixedBox converts a configured [y1, y2, x1, x2] rectangle into a Box
// clamped to the frame.
func FixedBox(rect [4]int, width, height int) Box {
	return clamp(Box{X1: rect[2], Y1: rect[0], X2: rect[3], Y2: rect[1]}, width, height)
}
