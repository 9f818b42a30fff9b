// Package mux combines the silent composited video with the target audio into
// the final deliverable.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"lipsync/internal/fileutil"
	"lipsync/internal/logging"
	"lipsync/internal/services"
)

// Request names the inputs and the final output path.
type Request struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
}

type commandRunner func(ctx context.Context, binary string, args []string) error

// Muxer runs ffmpeg to combine the streams. Output is first written to a
// temporary file in WorkDir and moved over OutputPath only after ffmpeg exits
// cleanly.
type Muxer struct {
	FFmpegBinary string
	WorkDir      string
	Logger       *slog.Logger

	run commandRunner
}

// NewMuxer constructs a Muxer staging its output in workDir.
func NewMuxer(ffmpegBinary, workDir string, logger *slog.Logger) *Muxer {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Muxer{
		FFmpegBinary: ffmpegBinary,
		WorkDir:      workDir,
		Logger:       logging.NewComponentLogger(logger, "mux"),
		run:          runFFmpeg,
	}
}

// Args returns the ffmpeg argument vector that muxes req into out.
func Args(req Request, out string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", req.AudioPath,
		"-i", req.VideoPath,
		"-map", "1:v:0", "-map", "0:a:0",
		"-strict", "-2", "-q:v", "1",
		out,
	}
}

// Mux writes the combined file to req.OutputPath. Any ffmpeg failure or a
// missing or empty output is reported as services.ErrMux; OutputPath is left
// untouched in that case.
func (m *Muxer) Mux(ctx context.Context, req Request) error {
	if req.VideoPath == "" || req.AudioPath == "" || req.OutputPath == "" {
		return services.Wrap(services.ErrMux, "mux", "validate", "video, audio and output paths are required", nil)
	}
	logger := logging.WithContext(ctx, m.Logger)

	dir := m.WorkDir
	if dir == "" {
		dir = filepath.Dir(req.OutputPath)
	}
	base := filepath.Base(req.OutputPath)
	ext := filepath.Ext(base)
	tmp := filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".mux"+ext)
	defer os.Remove(tmp)

	run := m.run
	if run == nil {
		run = runFFmpeg
	}
	if err := run(ctx, m.FFmpegBinary, Args(req, tmp)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return services.Wrap(services.ErrMux, "mux", "ffmpeg", "", err)
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return services.Wrap(services.ErrMux, "mux", "verify", "ffmpeg produced no output", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrMux, "mux", "verify", "ffmpeg produced an empty file", nil)
	}
	if err := fileutil.MoveFile(tmp, req.OutputPath); err != nil {
		return services.Wrap(services.ErrMux, "mux", "publish", req.OutputPath, err)
	}
	logger.Info("output muxed",
		logging.String("output", req.OutputPath),
		logging.Int("size_bytes", int(info.Size())),
	)
	return nil
}

func runFFmpeg(ctx context.Context, binary string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
