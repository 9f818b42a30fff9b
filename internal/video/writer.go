package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"lipsync/internal/services"
)

// IntermediateName is the silent video the compositor writes before muxing.
const IntermediateName = "result.avi"

// Writer streams RGBA frames into an ffmpeg process that encodes the silent
// intermediate video. The process starts on the first frame, which fixes the
// output dimensions.
type Writer struct {
	binary string
	path   string
	fps    float64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	width  int
	height int
	frames int
	closed bool
}

// NewWriter prepares a writer for path at fps; nothing runs until WriteFrame.
func NewWriter(ffmpegBinary, path string, fps float64) *Writer {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &Writer{binary: ffmpegBinary, path: path, fps: fps}
}

// Path returns the output file.
func (w *Writer) Path() string { return w.path }

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int { return w.frames }

// WriteFrame appends img to the video.
func (w *Writer) WriteFrame(ctx context.Context, img *image.RGBA) error {
	if w.closed {
		return errors.New("video writer closed")
	}
	b := img.Bounds()
	if w.cmd == nil {
		if err := w.start(ctx, b.Dx(), b.Dy()); err != nil {
			return err
		}
	}
	if b.Dx() != w.width || b.Dy() != w.height {
		return services.Wrap(services.ErrValidation, "video", "write frame",
			fmt.Sprintf("frame %d is %dx%d, video is %dx%d", w.frames, b.Dx(), b.Dy(), w.width, w.height), nil)
	}

	pix := img.Pix
	if img.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		pix = Clone(img).Pix
	}
	if _, err := w.stdin.Write(pix[:4*b.Dx()*b.Dy()]); err != nil {
		w.Abort()
		return services.Wrap(services.ErrExternalTool, "video", "write frame", w.stderrDetail(), err)
	}
	w.frames++
	return nil
}

func (w *Writer) start(ctx context.Context, width, height int) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(w.fps, 'f', -1, 64),
		"-i", "-",
		"-an", "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "mpeg4", "-q:v", "1", "-pix_fmt", "yuv420p",
		w.path,
	}
	cmd := exec.CommandContext(ctx, w.binary, args...)
	cmd.Stderr = &w.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "video", "start writer", w.binary, err)
	}
	w.cmd, w.stdin, w.width, w.height = cmd, stdin, width, height
	return nil
}

// Close flushes the encoder and waits for ffmpeg to exit. Closing a writer
// that never received a frame is an error since no video exists.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.cmd == nil {
		return services.Wrap(services.ErrValidation, "video", "close writer", "no frames written", nil)
	}
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return services.Wrap(services.ErrExternalTool, "video", "encode", w.stderrDetail(), err)
	}
	return nil
}

// Abort stops the encoder without waiting for a clean finish. The partial
// output file is left for the caller's cleanup.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	if w.cmd == nil {
		return
	}
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

func (w *Writer) stderrDetail() string {
	if msg := strings.TrimSpace(w.stderr.String()); msg != "" {
		return msg
	}
	return "ffmpeg encoder failed"
}
