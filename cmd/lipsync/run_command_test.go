package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"lipsync/internal/config"
	"lipsync/internal/services"
)

func TestRunRequiresInputFlags(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "--video", "in.mp4"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for missing --audio/--output")
	}
	requireContains(t, err.Error(), "required flag")
}

func TestRunRequiresSidecar(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "--video", "a.mp4", "--audio", "a.wav", "--output", "out.mp4"}, env.configPath)
	if err == nil {
		t.Fatal("expected error without sidecar url")
	}
	requireContains(t, err.Error(), "sidecar.url is required")
}

func TestRunRejectsShortRectangle(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "--video", "a.mp4", "--audio", "a.wav", "--output", "out.mp4", "--box", "1,2"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for two-value --box")
	}
	requireContains(t, err.Error(), "--box takes exactly four integers")
}

func TestRunReportsMissingBinary(t *testing.T) {
	env := setupCLITestEnv(t)
	env.binDir = filepath.Join(env.baseDir, "nobin")
	env.writeConfig(t, "\n[sidecar]\nurl = \"ws://127.0.0.1:1/ws\"\n")

	_, _, err := runCLI(t, []string{"run", "--video", "a.mp4", "--audio", "a.wav", "--output", "out.mp4"}, env.configPath)
	if err == nil {
		t.Fatal("expected missing dependency error")
	}
	requireContains(t, err.Error(), "missing dependencies: FFmpeg")
}

func TestRunFlagsApply(t *testing.T) {
	cmd := newRunCommand(newCommandContext(new(string), new(bool)))
	args := []string{"--fps", "30", "--nosmooth", "--pads", "1,2,3,4", "--crop", "0,-1,10,-1", "--keep-artifacts"}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg := config.Default()
	var flags runFlags
	flags.fps = 30
	flags.noSmooth = true
	flags.keepArtifacts = true
	flags.pads = []int{1, 2, 3, 4}
	flags.crop = []int{0, -1, 10, -1}
	if err := flags.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	p := cfg.Pipeline
	if p.FPS != 30 || p.Smoothing || p.Pads != [4]int{1, 2, 3, 4} || p.Crop != [4]int{0, -1, 10, -1} {
		t.Fatalf("unexpected pipeline options: %+v", p)
	}
	if p.Box != [4]int{-1, -1, -1, -1} || p.BatchSize != config.DefaultPipeline().BatchSize {
		t.Fatalf("unset flags changed options: %+v", p)
	}
	if !cfg.Paths.KeepArtifactsOnError {
		t.Fatal("expected keep_artifacts override")
	}
}

func TestRunFailureLabelsKind(t *testing.T) {
	err := runFailure(services.Wrap(services.ErrFaceNotDetected, "face", "locate", "frame 7", nil))
	requireContains(t, err.Error(), "Face Not Detected failure")
	if !errors.Is(err, services.ErrFaceNotDetected) {
		t.Fatal("expected wrapped marker to survive")
	}

	canceled := fmt.Errorf("run: %w", context.Canceled)
	if got := runFailure(canceled); got != canceled {
		t.Fatalf("expected canceled error returned unchanged, got %v", got)
	}
}
