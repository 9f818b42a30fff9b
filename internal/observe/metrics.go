// Package observe records pipeline metrics through the OpenTelemetry metrics
// API. Runs use the global meter provider unless one is injected; tests pass
// an SDK provider backed by a ManualReader.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lipsync/internal/pipeline"

// Metric names.
const (
	StageDurationName    = "lipsync.stage.duration"
	RunsName             = "lipsync.runs"
	BatchesName          = "lipsync.inference.batches"
	FramesName           = "lipsync.inference.frames"
	DetectionRetriesName = "lipsync.face.detection_retries"
)

// stageBuckets spans sub-second decode steps up to multi-minute inference.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Metrics holds the pipeline instruments. All methods are safe for concurrent
// use and a nil *Metrics records nothing.
type Metrics struct {
	StageDuration    metric.Float64Histogram
	Runs             metric.Int64Counter
	Batches          metric.Int64Counter
	Frames           metric.Int64Counter
	DetectionRetries metric.Int64Counter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram(StageDurationName,
		metric.WithDescription("Wall time spent in each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter(RunsName,
		metric.WithDescription("Completed pipeline runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Batches, err = m.Int64Counter(BatchesName,
		metric.WithDescription("Batches sent to the lip-sync model."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter(FramesName,
		metric.WithDescription("Frames composited from model predictions."),
	); err != nil {
		return nil, err
	}
	if met.DetectionRetries, err = m.Int64Counter(DetectionRetriesName,
		metric.WithDescription("Face detection passes restarted with a halved batch size."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Global returns instruments on the process-wide meter provider.
func Global() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

// ObserveStage records how long stage took and whether it failed.
func (m *Metrics) ObserveStage(ctx context.Context, stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("failed", err != nil),
	))
}

// RecordRun counts a finished run. outcome is "success" or a failure kind.
func (m *Metrics) RecordRun(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBatch counts one inference batch of size frames.
func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.Batches.Add(ctx, 1)
	m.Frames.Add(ctx, int64(size))
}

// RecordDetectionRetry counts a halving of the detection batch.
func (m *Metrics) RecordDetectionRetry(ctx context.Context, batchSize int) {
	if m == nil {
		return
	}
	m.DetectionRetries.Add(ctx, 1, metric.WithAttributes(attribute.Int("batch_size", batchSize)))
}
