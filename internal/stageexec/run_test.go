package stageexec

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"lipsync/internal/services"
)

func TestRunStampsStageAndLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var seen string
	err := Run(context.Background(), Options{Logger: logger, StageName: "audio"}, func(ctx context.Context) error {
		seen, _ = services.StageFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != "audio" {
		t.Fatalf("stage not in context, got %q", seen)
	}
	out := buf.String()
	if !strings.Contains(out, `"event_type":"stage_complete"`) || !strings.Contains(out, `"stage":"audio"`) {
		t.Fatalf("missing completion event in %s", out)
	}
}

func TestRunReturnsStageError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	want := services.Wrap(services.ErrMux, "mux", "ffmpeg", "", errors.New("exit status 1"))

	err := Run(context.Background(), Options{Logger: logger, StageName: "mux"}, func(context.Context) error { return want })
	if !errors.Is(err, services.ErrMux) {
		t.Fatalf("expected mux error, got %v", err)
	}
	if !strings.Contains(buf.String(), `"failure_kind":"mux"`) {
		t.Fatalf("failure kind not logged: %s", buf.String())
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"face_detect": "Face Detect",
		"mux":         "Mux",
		"":            "",
	}
	for in, want := range cases {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}
