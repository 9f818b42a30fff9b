package inference

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/draw"

	"lipsync/internal/batch"
	"lipsync/internal/face"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/tensor"
	"lipsync/internal/video"
)

// Model predicts lower-face pixels from mel windows and masked face crops.
type Model interface {
	Infer(ctx context.Context, mels, images tensor.Tensor) (tensor.Tensor, error)
}

// Source produces batches in order; batch.Stream satisfies it.
type Source interface {
	Next() (batch.Batch, bool)
}

// FrameSink receives composited frames in output order; video.Writer
// satisfies it.
type FrameSink interface {
	WriteFrame(ctx context.Context, img *image.RGBA) error
}

// Driver feeds batches through a Model and writes the composited frames.
type Driver struct {
	Model   Model
	Logger  *slog.Logger
	OnBatch func(ctx context.Context, size int)
}

// NewDriver constructs a Driver around model.
func NewDriver(model Model, logger *slog.Logger) *Driver {
	return &Driver{Model: model, Logger: logging.NewComponentLogger(logger, "inference")}
}

// Run consumes src until it is exhausted and returns the number of frames
// written. Any model failure aborts the run without retry.
func (d *Driver) Run(ctx context.Context, src Source, sink FrameSink) (int, error) {
	logger := logging.WithContext(ctx, d.Logger)
	written, batches := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		b, ok := src.Next()
		if !ok {
			break
		}
		if err := d.runBatch(ctx, b, sink); err != nil {
			return written, err
		}
		written += b.Len()
		batches++
		if d.OnBatch != nil {
			d.OnBatch(ctx, b.Len())
		}
		logger.Debug("batch composited", logging.Int("batch", batches), logging.Int("frames_written", written))
	}
	logger.Info("inference complete", logging.Int("frames", written), logging.Int("batches", batches))
	return written, nil
}

func (d *Driver) runBatch(ctx context.Context, b batch.Batch, sink FrameSink) error {
	if d.Model == nil {
		return services.Wrap(services.ErrInference, "inference", "infer", "no model configured", nil)
	}
	n := b.Len()
	size := b.Images.Dim(2)
	pred, err := d.Model.Infer(ctx, b.Mels, b.Images)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return services.Wrap(services.ErrInference, "inference", "infer", fmt.Sprintf("batch of %d", n), err)
	}
	if !pred.HasShape(n, 3, size, size) {
		return services.Wrap(services.ErrInference, "inference", "infer",
			fmt.Sprintf("prediction shape %v, want [%d 3 %d %d]", pred.Shape, n, size, size), nil)
	}
	for i, el := range b.Elements {
		Composite(el.Frame, el.Box, pred.Sample(i), size)
		if err := sink.WriteFrame(ctx, el.Frame); err != nil {
			return fmt.Errorf("write frame %d: %w", el.Index, err)
		}
	}
	return nil
}

// Composite pastes one size x size BGR prediction into frame over box,
// resizing it to the box extent.
func Composite(frame *image.RGBA, box face.Box, planes []float32, size int) {
	patch := ToImage(planes, size)
	dst := box.Rect().Add(frame.Bounds().Min)
	if dst.Dx() == size && dst.Dy() == size {
		draw.Copy(frame, dst.Min, patch, patch.Bounds(), draw.Src, nil)
		return
	}
	resized := video.Resize(patch, dst.Dx(), dst.Dy())
	draw.Copy(frame, dst.Min, resized, resized.Bounds(), draw.Src, nil)
}

// ToImage converts three BGR planes in [0, 1] into an opaque RGBA image.
func ToImage(planes []float32, size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	plane := size * size
	for y := range size {
		for x := range size {
			off := y*size + x
			p := img.Pix[y*img.Stride+x*4:]
			p[0] = toByte(planes[2*plane+off])
			p[1] = toByte(planes[plane+off])
			p[2] = toByte(planes[off])
			p[3] = 0xff
		}
	}
	return img
}

func toByte(v float32) uint8 {
	v *= 255
	switch {
	case !(v > 0):
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
