package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"lipsync/internal/audio"
	"lipsync/internal/config"
	"lipsync/internal/face"
	"lipsync/internal/logging"
	"lipsync/internal/observe"
	"lipsync/internal/services"
	"lipsync/internal/tensor"
)

const (
	frameW = 32
	frameH = 24
)

type fixture struct {
	cfg     *config.Config
	video   string
	audio   string
	output  string
	counts  string
	staging string
}

// newFixture writes a 16 kHz WAV of the given length, a raw RGBA clip of
// frames frames, and stub ffprobe/ffmpeg binaries that serve them.
func newFixture(t *testing.T, seconds float64, frames int) fixture {
	t.Helper()
	dir := t.TempDir()

	samples := make([]float32, int(seconds*audio.SampleRate))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate))
	}
	audioPath := filepath.Join(dir, "voice.wav")
	if err := audio.WriteWAV(audioPath, audio.Waveform{Samples: samples, SampleRate: audio.SampleRate}); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	raw := make([]byte, 0, frames*frameW*frameH*4)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, frameW, frameH))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = uint8(i), 100, 150, 255
		}
		raw = append(raw, img.Pix...)
	}
	rawPath := filepath.Join(dir, "frames.rgba")
	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	videoPath := filepath.Join(dir, "speaker.mp4")
	if err := os.WriteFile(videoPath, []byte("container"), 0o644); err != nil {
		t.Fatal(err)
	}

	probeJSON := `{"streams":[{"index":0,"codec_type":"video","width":` + strconv.Itoa(frameW) +
		`,"height":` + strconv.Itoa(frameH) + `,"avg_frame_rate":"25/1"}],"format":{"duration":"2.0"}}`
	ffprobe := writeStub(t, dir, "ffprobe", "cat <<'JSON'\n"+probeJSON+"\nJSON\n")

	counts := filepath.Join(dir, "encoded_bytes")
	ffmpeg := writeStub(t, dir, "ffmpeg", `for last; do :; done
case " $* " in
  *" -noautorotate "*) cat "`+rawPath+`" ;;
  *" -i - "*) cat > "$last"; wc -c < "$last" >> "`+counts+`" ;;
  *) echo muxed > "$last" ;;
esac
`)

	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(dir, "staging")
	cfg.FFmpeg.FFmpegBinary = ffmpeg
	cfg.FFmpeg.FFprobeBinary = ffprobe
	cfg.Pipeline.ImageSize = 8
	cfg.Pipeline.BatchSize = 16
	return fixture{
		cfg:     &cfg,
		video:   videoPath,
		audio:   audioPath,
		output:  filepath.Join(dir, "out", "result.mp4"),
		counts:  counts,
		staging: cfg.Paths.StagingDir,
	}
}

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f fixture) request() Request {
	return Request{VideoPath: f.video, AudioPath: f.audio, OutputPath: f.output, Config: f.cfg}
}

// faceDetector finds a centered face in every frame whose red channel is not
// listed in faceless.
type faceDetector struct {
	faceless map[uint8]bool
}

func (d faceDetector) DetectBatch(_ context.Context, frames []*image.RGBA) ([]face.Detection, error) {
	out := make([]face.Detection, len(frames))
	for i, f := range frames {
		if d.faceless[f.Pix[0]] {
			continue
		}
		out[i] = face.Detection{Box: face.Box{X1: 8, Y1: 4, X2: 24, Y2: 16}, Found: true}
	}
	return out, nil
}

type greyModel struct{}

func (greyModel) Infer(_ context.Context, _, images tensor.Tensor) (tensor.Tensor, error) {
	out := tensor.New(images.Dim(0), 3, images.Dim(2), images.Dim(3))
	for i := range out.Data {
		out.Data[i] = 0.5
	}
	return out, nil
}

func newTestRunner(t *testing.T, det face.Detector) (*Runner, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	r := NewRunner(logging.NewNop())
	r.Detector = det
	r.Model = greyModel{}
	r.Metrics = metrics
	return r, reader
}

func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "run-") {
			t.Fatalf("run directory %s left behind", e.Name())
		}
	}
}

func TestRunProducesOneFramePerWindow(t *testing.T) {
	fx := newFixture(t, 2, 60)
	r, reader := newTestRunner(t, faceDetector{})

	res, err := r.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Windows != 50 || res.Frames != 50 {
		t.Fatalf("expected 50 windows and frames, got %d/%d", res.Windows, res.Frames)
	}
	if res.RunID == "" || res.OutputPath != fx.output {
		t.Fatalf("unexpected result %+v", res)
	}
	data, err := os.ReadFile(fx.output)
	if err != nil || strings.TrimSpace(string(data)) != "muxed" {
		t.Fatalf("output missing: %q %v", data, err)
	}
	counts, err := os.ReadFile(fx.counts)
	if err != nil {
		t.Fatalf("encoder never ran: %v", err)
	}
	if got := strings.TrimSpace(string(counts)); got != strconv.Itoa(50*frameW*frameH*4) {
		t.Fatalf("encoder received %s bytes, want 50 frames", got)
	}
	assertStagingEmpty(t, fx.staging)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == observe.RunsName {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("run outcome not recorded")
	}
}

func TestRunCyclesShortVideo(t *testing.T) {
	fx := newFixture(t, 2, 20)
	r, _ := newTestRunner(t, faceDetector{})
	res, err := r.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Frames != 50 {
		t.Fatalf("expected 50 composited frames from a 20-frame clip, got %d", res.Frames)
	}
}

func TestRunCorrectsNonPositiveFPS(t *testing.T) {
	fx := newFixture(t, 2, 60)
	fx.cfg.Pipeline.FPS = -10
	r, _ := newTestRunner(t, faceDetector{})
	res, err := r.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Windows != 50 {
		t.Fatalf("expected fps to fall back to 25, got %d windows", res.Windows)
	}
}

func TestRunLogsFrameRateCorrectedAtLoad(t *testing.T) {
	fx := newFixture(t, 2, 60)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[pipeline]\nfps = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fx.cfg.Pipeline.FPS = loaded.Pipeline.FPS
	fx.cfg.Warnings = loaded.Warnings

	var buf bytes.Buffer
	r, _ := newTestRunner(t, faceDetector{})
	r.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	res, err := r.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Windows != 50 {
		t.Fatalf("expected 50 windows at 25 fps, got %d", res.Windows)
	}
	logs := buf.String()
	if !strings.Contains(logs, "pipeline_option_corrected") || !strings.Contains(logs, "pipeline.fps") {
		t.Fatalf("frame rate correction not logged:\n%s", logs)
	}
}

func TestRunFailsOnFacelessFrame(t *testing.T) {
	fx := newFixture(t, 2, 60)
	r, _ := newTestRunner(t, faceDetector{faceless: map[uint8]bool{7: true}})

	_, err := r.Run(context.Background(), fx.request())
	var notFound *face.FaceNotDetectedError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected FaceNotDetectedError, got %v", err)
	}
	if notFound.Frame != 7 {
		t.Fatalf("expected frame 7, got %d", notFound.Frame)
	}
	if notFound.ArtifactPath != "" {
		t.Fatalf("artifact path %q survives the removed run directory", notFound.ArtifactPath)
	}
	if Classify(err) != "face_not_detected" {
		t.Fatalf("unexpected classification %q", Classify(err))
	}
	if _, statErr := os.Stat(fx.output); !os.IsNotExist(statErr) {
		t.Fatal("output created despite failure")
	}
	assertStagingEmpty(t, fx.staging)
}

func TestRunKeepsFaultyFrame(t *testing.T) {
	fx := newFixture(t, 2, 60)
	fx.cfg.Paths.KeepArtifactsOnError = true
	r, _ := newTestRunner(t, faceDetector{faceless: map[uint8]bool{0: true}})

	_, err := r.Run(context.Background(), fx.request())
	var notFound *face.FaceNotDetectedError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected FaceNotDetectedError, got %v", err)
	}
	want := filepath.Join(filepath.Dir(fx.output), "result."+face.FaultyFrameName)
	if notFound.ArtifactPath != want {
		t.Fatalf("artifact path %q, want %q", notFound.ArtifactPath, want)
	}
	if _, statErr := os.Stat(want); statErr != nil {
		t.Fatalf("kept frame missing: %v", statErr)
	}
}

func TestRunRejectsShortAudio(t *testing.T) {
	fx := newFixture(t, 0.05, 5)
	r, _ := newTestRunner(t, faceDetector{})
	_, err := r.Run(context.Background(), fx.request())
	if !errors.Is(err, services.ErrInvalidAudio) {
		t.Fatalf("expected ErrInvalidAudio, got %v", err)
	}
	assertStagingEmpty(t, fx.staging)
}

func TestRunRefusesLockedOutput(t *testing.T) {
	fx := newFixture(t, 2, 60)
	if err := os.MkdirAll(filepath.Dir(fx.output), 0o755); err != nil {
		t.Fatal(err)
	}
	lock, err := lockOutput(fx.staging, fx.output)
	if err != nil {
		t.Fatalf("lockOutput: %v", err)
	}
	defer lock.release()

	r, _ := newTestRunner(t, faceDetector{})
	_, err = r.Run(context.Background(), fx.request())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for locked output, got %v", err)
	}
}

func TestRunRequiresInputs(t *testing.T) {
	fx := newFixture(t, 2, 60)
	req := fx.request()
	req.AudioPath = filepath.Join(t.TempDir(), "missing.wav")
	r, _ := newTestRunner(t, faceDetector{})
	if _, err := r.Run(context.Background(), req); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := r.Run(context.Background(), Request{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without config, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	fx := newFixture(t, 2, 60)
	r, _ := newTestRunner(t, faceDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, fx.request())
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if Classify(err) != "canceled" {
		t.Fatalf("expected canceled classification, got %q (%v)", Classify(err), err)
	}
	assertStagingEmpty(t, fx.staging)
}
