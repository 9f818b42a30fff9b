package audio

import (
	"fmt"
	"iter"
	"math"

	"lipsync/internal/services"
)

// Window is one NumMels x WindowFrames slice of the spectrogram, stored
// bin-major like Spectrogram.
type Window struct {
	Data []float32
}

// At returns the value of bin b at column c.
func (w Window) At(b, c int) float32 {
	return w.Data[b*WindowFrames+c]
}

// Windows is the ordered sequence of mel windows aligned to video frames.
// Window i covers the spectrogram columns starting at int(i*80/fps); windows
// that would run past the end, and always the last window, are right-aligned
// to the final column.
type Windows struct {
	spec   *Spectrogram
	starts []int
}

// NewWindows slices spec into one window per video frame of the audio's
// duration: ceil(samples*fps/SampleRate), at least one.
func NewWindows(spec *Spectrogram, samples int, fps float64) (*Windows, error) {
	if !(fps > 0) {
		return nil, services.Wrap(services.ErrValidation, "audio", "mel windows", fmt.Sprintf("frame rate %v must be positive", fps), nil)
	}
	if spec == nil || spec.Frames < WindowFrames {
		frames := 0
		if spec != nil {
			frames = spec.Frames
		}
		return nil, services.Wrap(services.ErrInvalidAudio, "audio", "mel windows",
			fmt.Sprintf("audio too short: %d spectrogram frames, need at least %d", frames, WindowFrames), nil)
	}

	count := WindowCount(samples, fps)
	step := float64(FramesPerSecond) / fps
	last := spec.Frames - WindowFrames
	starts := make([]int, count)
	for i := range starts {
		start := int(float64(i) * step)
		if start > last {
			start = last
		}
		starts[i] = start
	}
	starts[count-1] = last
	return &Windows{spec: spec, starts: starts}, nil
}

// WindowCount returns the number of output frames spanned by samples at fps.
func WindowCount(samples int, fps float64) int {
	count := int(math.Ceil(float64(samples) * fps / SampleRate))
	return max(count, 1)
}

// Len returns the number of windows.
func (w *Windows) Len() int {
	return len(w.starts)
}

// Start returns the first spectrogram column of window i.
func (w *Windows) Start(i int) int {
	return w.starts[i]
}

// At copies window i out of the spectrogram.
func (w *Windows) At(i int) Window {
	start := w.starts[i]
	bins := w.spec.Bins
	out := make([]float32, bins*WindowFrames)
	for b := range bins {
		row := w.spec.Data[b*w.spec.Frames+start : b*w.spec.Frames+start+WindowFrames]
		copy(out[b*WindowFrames:], row)
	}
	return Window{Data: out}
}

// All yields every window in order with its index.
func (w *Windows) All() iter.Seq2[int, Window] {
	return func(yield func(int, Window) bool) {
		for i := range w.starts {
			if !yield(i, w.At(i)) {
				return
			}
		}
	}
}

// Spectrogram returns the underlying spectrogram.
func (w *Windows) Spectrogram() *Spectrogram {
	return w.spec
}
