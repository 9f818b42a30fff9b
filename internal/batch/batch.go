// Package batch pairs every mel window with a face crop and packs the pairs
// into the tensors the lip-sync model consumes.
package batch

import (
	"fmt"
	"image"

	"lipsync/internal/audio"
	"lipsync/internal/face"
	"lipsync/internal/services"
	"lipsync/internal/tensor"
	"lipsync/internal/video"
)

// Channels is the per-pixel depth of the image tensor: the masked crop
// followed by the full crop, each in BGR order.
const Channels = 6

// Windows is the mel window sequence the stream walks.
type Windows interface {
	Len() int
	At(i int) audio.Window
}

// Options sizes the model inputs.
type Options struct {
	ImageSize int
	BatchSize int
}

// Element is one output frame: the window index it renders, the source frame
// it was cut from, a private copy of that frame and the face box within it.
type Element struct {
	Index      int
	FrameIndex int
	Frame      *image.RGBA
	Box        face.Box
}

// Batch holds up to BatchSize elements with their tensors. Images is
// [B, 6, S, S] and Mels is [B, 1, 80, 16].
type Batch struct {
	Elements []Element
	Images   tensor.Tensor
	Mels     tensor.Tensor
}

// Len returns the number of elements.
func (b Batch) Len() int { return len(b.Elements) }

// Stream yields batches covering every mel window exactly once. Window i is
// paired with frame i mod len(frames).
type Stream struct {
	frames  []*image.RGBA
	boxes   []face.Box
	windows Windows
	opts    Options
	next    int
}

// NewStream validates the inputs and returns a stream positioned at the first
// window.
func NewStream(frames []*image.RGBA, boxes []face.Box, windows Windows, opts Options) (*Stream, error) {
	switch {
	case len(frames) == 0:
		return nil, services.Wrap(services.ErrValidation, "batch", "new stream", "no frames", nil)
	case len(boxes) != len(frames):
		return nil, services.Wrap(services.ErrValidation, "batch", "new stream",
			fmt.Sprintf("%d face boxes for %d frames", len(boxes), len(frames)), nil)
	case windows == nil || windows.Len() == 0:
		return nil, services.Wrap(services.ErrValidation, "batch", "new stream", "no mel windows", nil)
	case opts.ImageSize <= 0 || opts.ImageSize%2 != 0:
		return nil, services.Wrap(services.ErrValidation, "batch", "new stream",
			fmt.Sprintf("image size %d must be a positive even number", opts.ImageSize), nil)
	}
	for i, b := range boxes {
		if b.Empty() {
			return nil, services.Wrap(services.ErrValidation, "batch", "new stream",
				fmt.Sprintf("face box for frame %d is empty", i), nil)
		}
	}
	opts.BatchSize = max(opts.BatchSize, 1)
	return &Stream{frames: frames, boxes: boxes, windows: windows, opts: opts}, nil
}

// Total returns the number of elements the stream emits.
func (s *Stream) Total() int { return s.windows.Len() }

// Next assembles the next batch. It returns false once every window has been
// emitted; the stream cannot be rewound.
func (s *Stream) Next() (Batch, bool) {
	total := s.windows.Len()
	if s.next >= total {
		return Batch{}, false
	}
	end := min(s.next+s.opts.BatchSize, total)
	n := end - s.next
	size := s.opts.ImageSize

	out := Batch{
		Elements: make([]Element, 0, n),
		Images:   tensor.New(n, Channels, size, size),
		Mels:     tensor.New(n, 1, audio.NumMels, audio.WindowFrames),
	}
	for b := range n {
		idx := s.next + b
		fi := idx % len(s.frames)
		frame, box := s.frames[fi], s.boxes[fi]

		crop := video.Resize(frame.SubImage(box.Rect().Add(frame.Bounds().Min)), size, size)
		fillImage(out.Images.Sample(b), crop, size)
		copy(out.Mels.Sample(b), s.windows.At(idx).Data)

		out.Elements = append(out.Elements, Element{
			Index:      idx,
			FrameIndex: fi,
			Frame:      video.Clone(frame),
			Box:        box,
		})
	}
	s.next = end
	return out, true
}

// fillImage writes crop into dst as six size x size planes: masked B, G, R
// (lower half zeroed) followed by unmasked B, G, R, scaled to [0, 1].
func fillImage(dst []float32, crop *image.RGBA, size int) {
	plane := size * size
	half := size / 2
	for y := range size {
		row := crop.Pix[y*crop.Stride:]
		for x := range size {
			px := row[x*4 : x*4+4]
			off := y*size + x
			bgr := [3]float32{float32(px[2]) / 255, float32(px[1]) / 255, float32(px[0]) / 255}
			for c, v := range bgr {
				dst[(3+c)*plane+off] = v
				if y < half {
					dst[c*plane+off] = v
				}
			}
		}
	}
}
