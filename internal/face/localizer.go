package face

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/mem"

	"lipsync/internal/logging"
	"lipsync/internal/services"
)

// FaultyFrameName is the artifact written when a frame has no face.
const FaultyFrameName = "faulty_frame.jpg"

// Detector finds at most one face per frame. It must return exactly one
// Detection per input frame, in order.
type Detector interface {
	DetectBatch(ctx context.Context, frames []*image.RGBA) ([]Detection, error)
}

// Cache stores raw detections for a video so repeated runs can skip the
// detector.
type Cache interface {
	Get(ctx context.Context, key string) ([]Detection, bool, error)
	Put(ctx context.Context, key string, detections []Detection) error
}

// Options configures a Locate call. FixedBox is [y1, y2, x1, x2]; a first
// element of -1 disables it.
type Options struct {
	Pads        Pads
	Smoothing   bool
	BatchSize   int
	FixedBox    [4]int
	ArtifactDir string
	CacheKey    string
}

// Localizer turns frames into face boxes. OnRetry, when set, is called each
// time the detection batch size is halved.
type Localizer struct {
	Detector Detector
	Cache    Cache
	Logger   *slog.Logger
	OnRetry  func(ctx context.Context, batchSize int)

	memory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewLocalizer constructs a Localizer around detector. cache may be nil.
func NewLocalizer(detector Detector, cache Cache, logger *slog.Logger) *Localizer {
	return &Localizer{
		Detector: detector,
		Cache:    cache,
		Logger:   logging.NewComponentLogger(logger, "face"),
		memory:   mem.VirtualMemoryWithContext,
	}
}

// Locate returns one box per frame. Boxes are padded, clamped to the frame and,
// unless disabled, smoothed over time.
func (l *Localizer) Locate(ctx context.Context, frames []*image.RGBA, opts Options) ([]Box, error) {
	if len(frames) == 0 {
		return nil, services.Wrap(services.ErrValidation, "face", "locate", "no frames", nil)
	}
	logger := logging.WithContext(ctx, l.Logger)

	if opts.FixedBox[0] != -1 {
		boxes := make([]Box, len(frames))
		for i, frame := range frames {
			b := frame.Bounds()
			boxes[i] = FixedBox(opts.FixedBox, b.Dx(), b.Dy())
			if boxes[i].Empty() {
				return nil, services.Wrap(services.ErrValidation, "face", "fixed box",
					fmt.Sprintf("box %v lies outside the %dx%d frame", opts.FixedBox, b.Dx(), b.Dy()), nil)
			}
		}
		logger.Info("using fixed face box", logging.Any("box", boxes[0]))
		return boxes, nil
	}

	detections, err := l.detections(ctx, frames, opts)
	if err != nil {
		return nil, err
	}

	boxes := make([]Box, len(frames))
	for i, det := range detections {
		b := frames[i].Bounds()
		var box Box
		if det.Found {
			box = opts.Pads.expand(det.Box, b.Dx(), b.Dy())
		}
		if !det.Found || box.Empty() {
			return nil, l.faceMissing(ctx, frames[i], i, opts.ArtifactDir)
		}
		boxes[i] = box
	}
	if opts.Smoothing {
		boxes = Smooth(boxes)
	}
	return boxes, nil
}

func (l *Localizer) detections(ctx context.Context, frames []*image.RGBA, opts Options) ([]Detection, error) {
	logger := logging.WithContext(ctx, l.Logger)
	useCache := l.Cache != nil && opts.CacheKey != ""
	if useCache {
		cached, ok, err := l.Cache.Get(ctx, opts.CacheKey)
		switch {
		case err != nil:
			logging.WarnWithContext(logger, "face cache lookup failed", "face_cache_read_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the face cache database if the problem persists"),
				logging.String(logging.FieldImpact, "detection runs without the cache"),
			)
		case ok && len(cached) == len(frames):
			logger.Info("face detections loaded from cache", logging.Int("frames", len(cached)))
			return cached, nil
		case ok:
			logger.Debug("cached detections do not cover the frames; detecting again",
				logging.Int("cached", len(cached)),
				logging.Int("frames", len(frames)),
			)
		}
	}

	detections, err := l.detectAdaptive(ctx, frames, max(opts.BatchSize, 1))
	if err != nil {
		return nil, err
	}
	if useCache {
		if err := l.Cache.Put(ctx, opts.CacheKey, detections); err != nil {
			logging.WarnWithContext(logger, "face cache store failed", "face_cache_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next run detects faces again"),
			)
		}
	}
	return detections, nil
}

// detectAdaptive runs full detection passes, halving the batch size after
// each resource failure.
func (l *Localizer) detectAdaptive(ctx context.Context, frames []*image.RGBA, batchSize int) ([]Detection, error) {
	logger := logging.WithContext(ctx, l.Logger)
	for {
		detections, err := l.detectPass(ctx, frames, batchSize)
		if err == nil {
			logger.Info("face detection complete",
				logging.Int("frames", len(detections)),
				logging.Int("batch_size", batchSize),
			)
			return detections, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, ErrResourceExhausted) {
			return nil, services.Wrap(services.ErrExternalTool, "face", "detect", "detector failed", err)
		}
		if batchSize <= 1 {
			return nil, services.Wrap(services.ErrDetectionResource, "face", "detect",
				"out of memory at batch size 1; use a smaller resize_factor or a shorter video", err)
		}
		batchSize /= 2
		attrs := []logging.Attr{
			logging.Int("next_batch_size", batchSize),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "lower face_det_batch_size to skip these retries"),
			logging.String(logging.FieldImpact, "detection restarts with a smaller batch"),
		}
		if l.memory != nil {
			if vm, memErr := l.memory(ctx); memErr == nil && vm != nil {
				attrs = append(attrs,
					logging.Any("mem_available_bytes", vm.Available),
					logging.Float64("mem_used_percent", vm.UsedPercent),
				)
			}
		}
		logging.WarnWithContext(logger, "face detector out of resources, halving batch", "face_detect_retry", attrs...)
		if l.OnRetry != nil {
			l.OnRetry(ctx, batchSize)
		}
	}
}

func (l *Localizer) detectPass(ctx context.Context, frames []*image.RGBA, batchSize int) ([]Detection, error) {
	if l.Detector == nil {
		return nil, errors.New("no face detector configured")
	}
	out := make([]Detection, 0, len(frames))
	for start := 0; start < len(frames); start += batchSize {
		end := min(start+batchSize, len(frames))
		batch, err := l.Detector.DetectBatch(ctx, frames[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("detector returned %d results for %d frames", len(batch), end-start)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (l *Localizer) faceMissing(ctx context.Context, frame *image.RGBA, index int, dir string) error {
	notFound := &FaceNotDetectedError{Frame: index}
	if dir == "" {
		return notFound
	}
	path := filepath.Join(dir, FaultyFrameName)
	if err := writeJPEG(path, frame); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, l.Logger), "failed to save faulty frame", "faulty_frame_write_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no artifact for the missing face"),
		)
		return notFound
	}
	notFound.ArtifactPath = path
	return notFound
}

func writeJPEG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
}
