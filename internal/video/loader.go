package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"lipsync/internal/logging"
	"lipsync/internal/media/ffprobe"
	"lipsync/internal/services"
)

// Info describes the decoded stream.
type Info struct {
	Width     int
	Height    int
	FrameRate float64
	Frames    int
}

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Loader decodes every frame of a video file into memory.
type Loader struct {
	FFmpegBinary  string
	FFprobeBinary string
	Logger        *slog.Logger

	probe probeFunc
}

// NewLoader constructs a Loader using the given binaries.
func NewLoader(ffmpegBinary, ffprobeBinary string, logger *slog.Logger) *Loader {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Loader{
		FFmpegBinary:  ffmpegBinary,
		FFprobeBinary: ffprobeBinary,
		Logger:        logging.NewComponentLogger(logger, "video"),
		probe:         ffprobe.Inspect,
	}
}

// Load decodes path in display order and applies opts to each frame. Frames
// are returned as independent images that the loader never touches again.
func (l *Loader) Load(ctx context.Context, path string, opts Options) ([]*image.RGBA, Info, error) {
	logger := logging.WithContext(ctx, l.Logger)

	probe := l.probe
	if probe == nil {
		probe = ffprobe.Inspect
	}
	result, err := probe(ctx, l.FFprobeBinary, path)
	if err != nil {
		return nil, Info{}, services.Wrap(services.ErrExternalTool, "video", "probe", path, err)
	}
	stream, ok := result.VideoStream()
	if !ok || stream.Width <= 0 || stream.Height <= 0 {
		return nil, Info{}, services.Wrap(services.ErrValidation, "video", "probe", "no decodable video stream in "+path, nil)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.FFmpegBinary,
		"-hide_banner", "-loglevel", "error", "-noautorotate",
		"-i", path, "-map", "0:v:0", "-an",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, Info{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, Info{}, services.Wrap(services.ErrExternalTool, "video", "decode", "start ffmpeg", err)
	}

	frames, readErr := ReadFrames(stdout, stream.Width, stream.Height, opts)
	if readErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, Info{}, ctx.Err()
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "ffmpeg exited with an error"
		}
		return nil, Info{}, services.Wrap(services.ErrExternalTool, "video", "decode", detail, waitErr)
	}
	if readErr != nil {
		return nil, Info{}, services.Wrap(services.ErrValidation, "video", "decode", path, readErr)
	}
	if len(frames) == 0 {
		return nil, Info{}, services.Wrap(services.ErrValidation, "video", "decode", "no frames decoded from "+path, nil)
	}

	b := frames[0].Bounds()
	info := Info{Width: b.Dx(), Height: b.Dy(), FrameRate: stream.FrameRate(), Frames: len(frames)}
	logger.Info("video frames decoded",
		logging.Int("frames", info.Frames),
		logging.Int("width", info.Width),
		logging.Int("height", info.Height),
		logging.Float64("source_fps", info.FrameRate),
	)
	return frames, info, nil
}

// ReadFrames consumes raw RGBA frames of width x height from r until EOF,
// applying opts to each. A trailing partial frame is an error.
func ReadFrames(r io.Reader, width, height int, opts Options) ([]*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	size := width * height * 4
	var frames []*image.RGBA
	for {
		raw := image.NewRGBA(image.Rect(0, 0, width, height))
		_, err := io.ReadFull(r, raw.Pix[:size])
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", len(frames), err)
		}
		frame, err := opts.Apply(raw)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(frames), err)
		}
		frames = append(frames, frame)
	}
}
