package inference

import (
	"context"
	"errors"
	"image"
	"testing"

	"lipsync/internal/audio"
	"lipsync/internal/batch"
	"lipsync/internal/face"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/tensor"
)

type constWindows int

func (w constWindows) Len() int { return int(w) }

func (w constWindows) At(int) audio.Window {
	return audio.Window{Data: make([]float32, audio.NumMels*audio.WindowFrames)}
}

// fillModel predicts a solid colour given as B, G, R in [0, 1].
type fillModel struct {
	bgr   [3]float32
	calls int
	err   error
	shape []int
}

func (m *fillModel) Infer(_ context.Context, mels, images tensor.Tensor) (tensor.Tensor, error) {
	m.calls++
	if m.err != nil {
		return tensor.Tensor{}, m.err
	}
	if mels.Dim(0) != images.Dim(0) {
		return tensor.Tensor{}, errors.New("batch mismatch")
	}
	shape := m.shape
	if shape == nil {
		shape = []int{images.Dim(0), 3, images.Dim(2), images.Dim(3)}
	}
	out := tensor.New(shape...)
	plane := shape[2] * shape[3]
	for b := range shape[0] {
		s := out.Sample(b)
		for c := range 3 {
			for i := range plane {
				s[c*plane+i] = m.bgr[c]
			}
		}
	}
	return out, nil
}

type collectSink struct {
	frames []*image.RGBA
	failAt int
}

func (s *collectSink) WriteFrame(_ context.Context, img *image.RGBA) error {
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("encoder gone")
	}
	s.frames = append(s.frames, img)
	return nil
}

func newStream(t *testing.T, frames, windows, batchSize int) (*batch.Stream, []*image.RGBA) {
	t.Helper()
	src := make([]*image.RGBA, frames)
	boxes := make([]face.Box, frames)
	for i := range src {
		src[i] = image.NewRGBA(image.Rect(0, 0, 40, 30))
		boxes[i] = face.Box{X1: 10, Y1: 5, X2: 30, Y2: 25}
	}
	s, err := batch.NewStream(src, boxes, constWindows(windows), batch.Options{ImageSize: 8, BatchSize: batchSize})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	return s, src
}

func TestDriverCompositesEveryWindow(t *testing.T) {
	stream, src := newStream(t, 3, 7, 4)
	model := &fillModel{bgr: [3]float32{0, 0.5, 1}}
	sink := &collectSink{}
	var batchSizes []int
	d := NewDriver(model, logging.NewNop())
	d.OnBatch = func(_ context.Context, n int) { batchSizes = append(batchSizes, n) }

	n, err := d.Run(context.Background(), stream, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 7 || len(sink.frames) != 7 {
		t.Fatalf("expected 7 frames, got %d/%d", n, len(sink.frames))
	}
	if model.calls != 2 || len(batchSizes) != 2 || batchSizes[1] != 3 {
		t.Fatalf("unexpected batching calls=%d sizes=%v", model.calls, batchSizes)
	}

	inside := sink.frames[0].RGBAAt(20, 15)
	if inside.R != 255 || inside.G != 127 || inside.B != 0 || inside.A != 255 {
		t.Fatalf("unexpected composited pixel %v", inside)
	}
	if outside := sink.frames[0].RGBAAt(2, 2); outside.A != 0 {
		t.Fatalf("pixel outside the box changed: %v", outside)
	}
	if src[0].RGBAAt(20, 15).A != 0 {
		t.Fatal("source frame was modified")
	}
}

func TestDriverWrapsModelFailure(t *testing.T) {
	stream, _ := newStream(t, 2, 2, 2)
	d := NewDriver(&fillModel{err: errors.New("CUDA error")}, logging.NewNop())
	_, err := d.Run(context.Background(), stream, &collectSink{})
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestDriverRejectsWrongPredictionShape(t *testing.T) {
	stream, _ := newStream(t, 2, 2, 2)
	d := NewDriver(&fillModel{shape: []int{2, 3, 4, 4}}, logging.NewNop())
	sink := &collectSink{}
	_, err := d.Run(context.Background(), stream, sink)
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
	if len(sink.frames) != 0 {
		t.Fatal("frames written despite shape mismatch")
	}
}

func TestDriverStopsOnSinkError(t *testing.T) {
	stream, _ := newStream(t, 1, 4, 4)
	d := NewDriver(&fillModel{}, logging.NewNop())
	n, err := d.Run(context.Background(), stream, &collectSink{failAt: 2})
	if err == nil || n != 0 {
		t.Fatalf("expected sink error, got n=%d err=%v", n, err)
	}
}

func TestDriverHonoursCancellation(t *testing.T) {
	stream, _ := newStream(t, 1, 4, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &fillModel{}
	_, err := NewDriver(model, logging.NewNop()).Run(ctx, stream, &collectSink{})
	if !errors.Is(err, context.Canceled) || model.calls != 0 {
		t.Fatalf("expected cancellation before inference, got %v after %d calls", err, model.calls)
	}
}

func TestToImageClamps(t *testing.T) {
	img := ToImage([]float32{-0.5, 2, 0.5}, 1)
	px := img.RGBAAt(0, 0)
	if px.B != 0 || px.G != 255 || px.R != 127 {
		t.Fatalf("unexpected pixel %v", px)
	}
}
