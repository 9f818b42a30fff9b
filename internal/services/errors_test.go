package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"lipsync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrMux, "mux", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrMux) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"mux", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutCauseOrDetail(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, services.KindNone},
		{"invalid audio", services.Wrap(services.ErrInvalidAudio, "audio", "", "nan", nil), services.KindInvalidAudio},
		{"detection", services.Wrap(services.ErrDetectionResource, "face", "", "", nil), services.KindDetectionResource},
		{"face", fmt.Errorf("outer: %w", services.ErrFaceNotDetected), services.KindFaceNotDetected},
		{"inference", services.Wrap(services.ErrInference, "inference", "", "", errors.New("cuda")), services.KindInference},
		{"mux", services.Wrap(services.ErrMux, "mux", "", "", nil), services.KindMux},
		{"validation", services.Wrap(services.ErrValidation, "", "", "bad", nil), services.KindValidation},
		{"configuration", services.ErrConfiguration, services.KindConfiguration},
		{"tool", services.Wrap(services.ErrExternalTool, "audio", "transcode", "", nil), services.KindExternalTool},
		{"canceled", fmt.Errorf("decode: %w", context.Canceled), services.KindCanceled},
		{"other", errors.New("mystery"), services.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
