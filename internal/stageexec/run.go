// Package stageexec runs one pipeline stage with the logging and metrics every
// stage shares: a stage-scoped context, start/complete/failure events and a
// duration observation.
package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lipsync/internal/logging"
	"lipsync/internal/observe"
	"lipsync/internal/services"
)

// Options identifies the stage and where its telemetry goes.
type Options struct {
	Logger    *slog.Logger
	Metrics   *observe.Metrics
	StageName string
}

// Run executes fn with a context carrying the stage name.
func Run(ctx context.Context, opts Options, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("stage function unavailable: %s", opts.StageName)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stageCtx := services.WithStage(ctx, opts.StageName)
	logger := logging.WithContext(stageCtx, opts.Logger)

	logger.Debug("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", Label(opts.StageName)),
	)
	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)
	opts.Metrics.ObserveStage(stageCtx, opts.StageName, elapsed, err)

	if err != nil {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("failure_kind", string(services.Classify(err))),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("stage_label", Label(opts.StageName)),
		logging.Duration("elapsed", elapsed),
	)
	return nil
}

// Label turns a stage identifier such as "face_detect" into "Face Detect".
func Label(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return ""
	}
	return cases.Title(language.English).String(name)
}
