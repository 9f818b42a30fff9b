package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"lipsync/internal/audio"
	"lipsync/internal/batch"
	"lipsync/internal/config"
	"lipsync/internal/face"
	"lipsync/internal/facecache"
	"lipsync/internal/inference"
	"lipsync/internal/logging"
	"lipsync/internal/mux"
	"lipsync/internal/observe"
	"lipsync/internal/services"
	"lipsync/internal/stageexec"
	"lipsync/internal/staging"
	"lipsync/internal/video"
)

// Stage names used in logs, errors and metrics.
const (
	StageDecode    = "decode"
	StageAudio     = "audio"
	StageVideo     = "video"
	StageFace      = "face"
	StageInference = "inference"
	StageMux       = "mux"
)

// Request describes one lip-sync job.
type Request struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	Config     *config.Config
}

// Result summarizes a successful run.
type Result struct {
	OutputPath string
	Frames     int
	Windows    int
	RunID      string
	Elapsed    time.Duration
}

// Runner executes pipeline runs. Detector and Model are used when set;
// otherwise each run dials the sidecar named in the config. Cache is used when
// set; otherwise the SQLite face cache is opened when enabled in the config.
type Runner struct {
	Detector face.Detector
	Model    inference.Model
	Cache    face.Cache
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// NewRunner constructs a Runner that logs through logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{Logger: logging.NewComponentLogger(logger, "pipeline")}
}

// Classify maps a Run error to its stable failure kind.
func Classify(err error) string {
	return string(services.Classify(err))
}

type decoded struct {
	windows *audio.Windows
	frames  []*image.RGBA
	info    video.Info
}

// Run performs the whole pipeline. On any failure no output file is created
// or replaced.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	cfg := req.Config
	if cfg == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "run", "configuration is required", nil)
	}
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = Classify(err)
		}
		r.Metrics.RecordRun(ctx, outcome)
	}()

	opts, corrected := cfg.Pipeline.Normalized()
	logger := logging.WithContext(ctx, r.Logger)
	warnings := append(slices.Clone(cfg.Warnings), corrected...)
	for _, w := range warnings {
		logging.WarnWithContext(logger, w, "pipeline_option_corrected",
			logging.String(logging.FieldImpact, "run continues with the corrected value"),
			logging.String(logging.FieldErrorHint, "fix the value in the config file"),
		)
	}
	if err := opts.Validate(); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "validate options", "", err)
	}
	if err := checkInputs(req); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "pipeline", "inputs", "create output directory", err)
	}

	lock, err := lockOutput(cfg.Paths.StagingDir, req.OutputPath)
	if err != nil {
		return Result{}, err
	}
	defer lock.release()

	wd, err := staging.Acquire(cfg.Paths.StagingDir)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "pipeline", "staging", cfg.Paths.StagingDir, err)
	}
	defer func() {
		if err != nil {
			err = settleArtifacts(err, cfg.Paths.KeepArtifactsOnError, req.OutputPath, logger)
		}
		if relErr := wd.Release(); relErr != nil {
			logging.WarnWithContext(logger, "failed to remove run directory", "staging_cleanup_failed",
				logging.String("path", wd.Path),
				logging.Error(relErr),
				logging.String(logging.FieldImpact, "run directory remains until the next staging clean"),
			)
		}
	}()

	ctx = services.WithRunID(ctx, wd.RunID)
	logger = logging.WithContext(ctx, r.Logger)
	logger.Info("pipeline run started",
		logging.String("video", req.VideoPath),
		logging.String("audio", req.AudioPath),
		logging.String("output", req.OutputPath),
		logging.Float64("fps", opts.FPS),
	)

	detector, model, closeBackend, err := r.backend(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	defer closeBackend()

	vopts := video.Options{Crop: opts.Crop, ResizeFactor: opts.ResizeFactor, Rotate: opts.Rotate}
	in, err := r.decode(ctx, cfg, wd, req, opts.FPS, vopts)
	if err != nil {
		return Result{}, err
	}

	frames := in.frames
	if len(frames) > in.windows.Len() {
		frames = frames[:in.windows.Len()]
	}
	logger.Info("inputs aligned",
		logging.Int("frames", len(frames)),
		logging.Int("decoded_frames", len(in.frames)),
		logging.Int("windows", in.windows.Len()),
	)

	var boxes []face.Box
	err = stageexec.Run(ctx, r.stageOptions(StageFace), func(ctx context.Context) error {
		cache, closeCache := r.faceCache(ctx, cfg)
		defer closeCache()
		loc := face.NewLocalizer(detector, cache, r.Logger)
		loc.OnRetry = r.Metrics.RecordDetectionRetry
		var locErr error
		boxes, locErr = loc.Locate(ctx, frames, face.Options{
			Pads:        face.Pads(opts.Pads),
			Smoothing:   opts.Smoothing,
			BatchSize:   opts.FaceDetBatchSize,
			FixedBox:    opts.Box,
			ArtifactDir: wd.Path,
			CacheKey:    r.cacheKey(ctx, cache, opts, req.VideoPath, vopts),
		})
		return locErr
	})
	if err != nil {
		return Result{}, err
	}

	var written int
	err = stageexec.Run(ctx, r.stageOptions(StageInference), func(ctx context.Context) error {
		stream, streamErr := batch.NewStream(frames, boxes, in.windows, batch.Options{
			ImageSize: opts.ImageSize,
			BatchSize: opts.BatchSize,
		})
		if streamErr != nil {
			return streamErr
		}
		writer := video.NewWriter(cfg.FFmpegBinary(), wd.File(video.IntermediateName), opts.FPS)
		driver := inference.NewDriver(model, r.Logger)
		driver.OnBatch = r.Metrics.RecordBatch
		var runErr error
		written, runErr = driver.Run(ctx, stream, writer)
		if runErr != nil {
			writer.Abort()
			return runErr
		}
		return writer.Close()
	})
	if err != nil {
		return Result{}, err
	}

	err = stageexec.Run(ctx, r.stageOptions(StageMux), func(ctx context.Context) error {
		m := mux.NewMuxer(cfg.FFmpegBinary(), wd.Path, r.Logger)
		return m.Mux(ctx, mux.Request{
			VideoPath:  wd.File(video.IntermediateName),
			AudioPath:  req.AudioPath,
			OutputPath: req.OutputPath,
		})
	})
	if err != nil {
		return Result{}, err
	}

	res = Result{
		OutputPath: req.OutputPath,
		Frames:     written,
		Windows:    in.windows.Len(),
		RunID:      wd.RunID,
		Elapsed:    time.Since(start),
	}
	logger.Info("pipeline run complete",
		logging.String("output", res.OutputPath),
		logging.Int("frames", res.Frames),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// decode runs the audio extractor and the video loader concurrently. Neither
// observes the other; the first failure cancels its sibling.
func (r *Runner) decode(ctx context.Context, cfg *config.Config, wd *staging.Workdir, req Request, fps float64, vopts video.Options) (decoded, error) {
	var out decoded
	err := stageexec.Run(ctx, r.stageOptions(StageDecode), func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return stageexec.Run(gctx, r.stageOptions(StageAudio), func(ctx context.Context) error {
				extractor := audio.NewExtractor(cfg.FFmpegBinary(), wd.Path, r.Logger)
				windows, err := extractor.Extract(ctx, req.AudioPath, fps)
				out.windows = windows
				return err
			})
		})
		g.Go(func() error {
			return stageexec.Run(gctx, r.stageOptions(StageVideo), func(ctx context.Context) error {
				loader := video.NewLoader(cfg.FFmpegBinary(), cfg.FFprobeBinary(), r.Logger)
				frames, info, err := loader.Load(ctx, req.VideoPath, vopts)
				out.frames, out.info = frames, info
				return err
			})
		})
		return g.Wait()
	})
	return out, err
}

func (r *Runner) stageOptions(name string) stageexec.Options {
	return stageexec.Options{Logger: r.Logger, Metrics: r.Metrics, StageName: name}
}

func checkInputs(req Request) error {
	for _, in := range []struct{ name, path string }{
		{"video", req.VideoPath},
		{"audio", req.AudioPath},
	} {
		if strings.TrimSpace(in.path) == "" {
			return services.Wrap(services.ErrValidation, "pipeline", "inputs", in.name+" path is required", nil)
		}
		info, err := os.Stat(in.path)
		if err != nil {
			return services.Wrap(services.ErrValidation, "pipeline", "inputs", in.name+" file not readable", err)
		}
		if info.IsDir() {
			return services.Wrap(services.ErrValidation, "pipeline", "inputs", fmt.Sprintf("%s path %s is a directory", in.name, in.path), nil)
		}
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return services.Wrap(services.ErrValidation, "pipeline", "inputs", "output path is required", nil)
	}
	return nil
}

func (r *Runner) cacheKey(ctx context.Context, cache face.Cache, opts config.Pipeline, videoPath string, vopts video.Options) string {
	if cache == nil || opts.HasFixedBox() {
		return ""
	}
	key, err := facecache.Key(videoPath, vopts)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.Logger), "face cache key unavailable", "face_cache_key_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "detection runs without the cache"),
		)
		return ""
	}
	return key
}
