package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"lipsync/internal/logging"
	"lipsync/internal/services"
)

// TranscodedName is the file the extractor writes into its work directory
// when the input needs converting.
const TranscodedName = "audio.wav"

type commandRunner func(ctx context.Context, binary string, args []string) error

// Extractor turns an audio file into mel windows aligned to video frames.
// Non-native input is transcoded into WorkDir.
type Extractor struct {
	FFmpegBinary string
	WorkDir      string
	Params       Params
	Logger       *slog.Logger

	run commandRunner
}

// NewExtractor constructs an extractor that transcodes with ffmpegBinary into
// workDir.
func NewExtractor(ffmpegBinary, workDir string, logger *slog.Logger) *Extractor {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Extractor{
		FFmpegBinary: ffmpegBinary,
		WorkDir:      workDir,
		Params:       DefaultParams(),
		Logger:       logging.NewComponentLogger(logger, "audio"),
		run:          runFFmpeg,
	}
}

// Extract loads path, computes its log-mel spectrogram, and slices it into
// one window per output frame at fps.
func (e *Extractor) Extract(ctx context.Context, path string, fps float64) (*Windows, error) {
	logger := logging.WithContext(ctx, e.Logger)

	wave, err := e.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	spec, err := MelSpectrogram(wave.Samples, e.Params)
	if err != nil {
		return nil, err
	}
	windows, err := NewWindows(spec, len(wave.Samples), fps)
	if err != nil {
		return nil, err
	}
	logger.Info("audio features extracted",
		logging.Float64("duration_seconds", wave.Duration()),
		logging.Int("mel_frames", spec.Frames),
		logging.Int("windows", windows.Len()),
	)
	return windows, nil
}

// Load returns the 16 kHz mono waveform of path, transcoding through ffmpeg
// when the file is not already in that format.
func (e *Extractor) Load(ctx context.Context, path string) (Waveform, error) {
	native, err := IsNativeWAV(path)
	if err != nil {
		return Waveform{}, services.Wrap(services.ErrValidation, "audio", "open", path, err)
	}
	source := path
	if !native {
		source = filepath.Join(e.WorkDir, TranscodedName)
		args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", path,
			"-vn", "-ac", "1", "-ar", fmt.Sprint(SampleRate), "-acodec", "pcm_s16le", source}
		logging.WithContext(ctx, e.Logger).Debug("transcoding audio",
			logging.String("input", path),
			logging.String("output", source),
		)
		runner := e.run
		if runner == nil {
			runner = runFFmpeg
		}
		if err := runner(ctx, e.FFmpegBinary, args); err != nil {
			return Waveform{}, services.Wrap(services.ErrExternalTool, "audio", "transcode", "ffmpeg could not convert the input audio", err)
		}
	}

	wave, err := LoadWAV(source)
	if err != nil {
		return Waveform{}, services.Wrap(services.ErrInvalidAudio, "audio", "decode", source, err)
	}
	if wave.SampleRate != SampleRate {
		return Waveform{}, services.Wrap(services.ErrInvalidAudio, "audio", "decode",
			fmt.Sprintf("sample rate %d, want %d", wave.SampleRate, SampleRate), nil)
	}
	return wave, nil
}

func runFFmpeg(ctx context.Context, binary string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
