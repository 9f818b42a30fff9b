package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lipsync/internal/logging"
	"lipsync/internal/media/ffprobe"
	"lipsync/internal/services"
)

// gradient returns a w x h frame whose pixel (x, y) is (x, y, seed, 255).
func gradient(w, h int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), seed, 255})
		}
	}
	return img
}

func TestRotateClockwise(t *testing.T) {
	src := gradient(4, 2, 0)
	dst := RotateClockwise(src)
	if dst.Bounds().Dx() != 2 || dst.Bounds().Dy() != 4 {
		t.Fatalf("unexpected rotated size %v", dst.Bounds())
	}
	// Top-left of the source moves to the top-right.
	if got := dst.RGBAAt(1, 0); got.R != 0 || got.G != 0 {
		t.Fatalf("expected source origin at top-right, got %v", got)
	}
	// Bottom-left of the source moves to the top-left.
	if got := dst.RGBAAt(0, 0); got.R != 0 || got.G != 1 {
		t.Fatalf("expected source bottom-left at top-left, got %v", got)
	}
	if got := dst.RGBAAt(0, 3); got.R != 3 || got.G != 1 {
		t.Fatalf("expected source bottom-right at bottom-left, got %v", got)
	}
}

func TestCropRect(t *testing.T) {
	src := gradient(10, 8, 0)
	out, err := CropRect(src, [4]int{2, -1, 3, 7})
	if err != nil {
		t.Fatalf("CropRect: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 4, 6) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if got := out.RGBAAt(0, 0); got.R != 3 || got.G != 2 {
		t.Fatalf("unexpected origin pixel %v", got)
	}

	same, err := CropRect(src, [4]int{0, -1, 0, -1})
	if err != nil || same != src {
		t.Fatalf("expected full crop to return the source, got %v", err)
	}
	if _, err := CropRect(src, [4]int{5, 5, 0, -1}); err == nil {
		t.Fatal("expected error for empty crop")
	}
	clamped, err := CropRect(src, [4]int{0, 100, 0, 100})
	if err != nil || clamped.Bounds().Dx() != 10 || clamped.Bounds().Dy() != 8 {
		t.Fatalf("expected oversized crop to clamp, got %v %v", clamped.Bounds(), err)
	}
}

func TestOptionsApplyOrder(t *testing.T) {
	opts := Options{Crop: [4]int{0, 3, 0, -1}, ResizeFactor: 2, Rotate: true}
	out, err := opts.Apply(gradient(8, 4, 0))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// 8x4 -> resize 4x2 -> rotate 2x4 -> crop rows 0..3 => 2x3
	if out.Bounds().Dx() != 2 || out.Bounds().Dy() != 3 {
		t.Fatalf("unexpected size %v", out.Bounds())
	}
	if _, err := (Options{Crop: [4]int{0, -1, 0, -1}, ResizeFactor: 16}).Apply(gradient(8, 4, 0)); err == nil {
		t.Fatal("expected error when resize factor collapses the frame")
	}
}

func TestReadFrames(t *testing.T) {
	var raw bytes.Buffer
	for i := range 3 {
		raw.Write(gradient(4, 3, uint8(i)).Pix)
	}
	frames, err := ReadFrames(bytes.NewReader(raw.Bytes()), 4, 3, DefaultOptions())
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.RGBAAt(0, 0).B != uint8(i) {
			t.Fatalf("frame %d out of order", i)
		}
	}

	truncated := raw.Bytes()[:raw.Len()-5]
	if _, err := ReadFrames(bytes.NewReader(truncated), 4, 3, DefaultOptions()); err == nil {
		t.Fatal("expected error for partial trailing frame")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestLoaderDecodesWithFFmpeg(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "frames.rgba")
	var raw bytes.Buffer
	for i := range 5 {
		raw.Write(gradient(6, 4, uint8(i)).Pix)
	}
	if err := os.WriteFile(rawPath, raw.Bytes(), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	ffmpeg := writeScript(t, dir, "ffmpeg", "cat "+rawPath+"\n")

	loader := NewLoader(ffmpeg, "ffprobe", logging.NewNop())
	loader.probe = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video", Width: 6, Height: 4, AvgFrameRate: "25/1"}}}, nil
	}
	opts := DefaultOptions()
	opts.Crop = [4]int{1, -1, 0, 4}
	frames, info, err := loader.Load(context.Background(), "clip.mp4", opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(frames) != 5 || info.Frames != 5 {
		t.Fatalf("expected 5 frames, got %d/%d", len(frames), info.Frames)
	}
	if info.Width != 4 || info.Height != 3 || info.FrameRate != 25 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestLoaderReportsDecoderFailure(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeScript(t, dir, "ffmpeg", "echo 'moov atom not found' >&2\nexit 1\n")
	loader := NewLoader(ffmpeg, "ffprobe", logging.NewNop())
	loader.probe = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video", Width: 2, Height: 2}}}, nil
	}
	_, _, err := loader.Load(context.Background(), "broken.mp4", DefaultOptions())
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "moov atom") {
		t.Fatalf("expected external tool error with stderr, got %v", err)
	}

	loader.probe = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "audio"}}}, nil
	}
	if _, _, err := loader.Load(context.Background(), "audio-only.m4a", DefaultOptions()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without a video stream, got %v", err)
	}
}

func TestWriterStreamsFrames(t *testing.T) {
	dir := t.TempDir()
	argsPath := filepath.Join(dir, "args.txt")
	ffmpeg := writeScript(t, dir, "ffmpeg", `echo "$@" > `+argsPath+`
for last; do :; done
cat > "$last"
`)
	out := filepath.Join(dir, IntermediateName)
	w := NewWriter(ffmpeg, out, 25)
	for i := range 4 {
		if err := w.WriteFrame(context.Background(), gradient(6, 4, uint8(i))); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := w.WriteFrame(context.Background(), gradient(5, 4, 0)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected size mismatch error, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Frames() != 4 {
		t.Fatalf("expected 4 frames, got %d", w.Frames())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(data) != 4*6*4*4 {
		t.Fatalf("expected %d bytes, got %d", 4*6*4*4, len(data))
	}
	args, err := os.ReadFile(argsPath)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	for _, want := range []string{"-s 6x4", "-r 25", "-q:v 1", "-c:v mpeg4"} {
		if !strings.Contains(string(args), want) {
			t.Fatalf("expected %q in args %q", want, args)
		}
	}
	if err := w.WriteFrame(context.Background(), gradient(6, 4, 0)); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestWriterCloseWithoutFrames(t *testing.T) {
	w := NewWriter("ffmpeg", filepath.Join(t.TempDir(), IntermediateName), 25)
	if err := w.Close(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	src := gradient(3, 3, 9)
	dup := Clone(src)
	dup.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	if src.RGBAAt(0, 0).R == 255 {
		t.Fatal("clone shares pixels with source")
	}
}
