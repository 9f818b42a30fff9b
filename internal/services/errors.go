package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAudio      = errors.New("invalid audio")
	ErrDetectionResource = errors.New("face detection resource exhausted")
	ErrFaceNotDetected   = errors.New("face not detected")
	ErrInference         = errors.New("inference failed")
	ErrMux               = errors.New("mux failed")
	ErrExternalTool      = errors.New("external tool error")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
)

// Kind is the stable failure classification handed to callers.
type Kind string

const (
	KindNone              Kind = ""
	KindInvalidAudio      Kind = "invalid_audio"
	KindDetectionResource Kind = "detection_resource"
	KindFaceNotDetected   Kind = "face_not_detected"
	KindInference         Kind = "inference"
	KindMux               Kind = "mux"
	KindExternalTool      Kind = "external_tool"
	KindValidation        Kind = "validation"
	KindConfiguration     Kind = "configuration"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a pipeline error to its failure kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrInvalidAudio):
		return KindInvalidAudio
	case errors.Is(err, ErrDetectionResource):
		return KindDetectionResource
	case errors.Is(err, ErrFaceNotDetected):
		return KindFaceNotDetected
	case errors.Is(err, ErrInference):
		return KindInference
	case errors.Is(err, ErrMux):
		return KindMux
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	default:
		return KindInternal
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
