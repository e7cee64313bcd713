// Package observe provides application-wide observability primitives for
// spellcast: OpenTelemetry metrics for the capture and keyword pipelines,
// distributed tracing around transcription, trace-aware structured logging,
// and HTTP middleware for the diagnostic endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all spellcast metrics.
const meterName = "github.com/MrWong99/spellcast"

// Segment outcomes recorded by [Metrics.RecordSegment].
const (
	OutcomeTranscribed = "transcribed"
	OutcomeDiscarded   = "discarded"
	OutcomeFailed      = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CallbackDuration tracks how long one capture callback takes, from
	// raw block to queued packets.
	CallbackDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text latency per voice buffer.
	TranscriptionDuration metric.Float64Histogram

	// --- Counters ---

	// PacketsEncoded counts Opus packets produced by the capture path.
	PacketsEncoded metric.Int64Counter

	// DecodeRecoveries counts packets replaced by silence on decode.
	DecodeRecoveries metric.Int64Counter

	// Segments counts finished voice buffers. Use with attribute:
	//   attribute.String("outcome", ...)
	Segments metric.Int64Counter

	// KeywordMatches counts detections. Use with attribute:
	//   attribute.String("keyword", ...)
	KeywordMatches metric.Int64Counter

	// PipelineErrors counts recoverable failures. Use with attribute:
	//   attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// QueueDrops counts items discarded by bounded queues. Use with attribute:
	//   attribute.String("queue", ...)
	QueueDrops metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of streaming capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// callbackBuckets covers device callback periods (5-50 ms) with headroom.
var callbackBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latency.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CallbackDuration, err = m.Float64Histogram("spellcast.capture.callback.duration",
		metric.WithDescription("Time spent processing one capture callback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("spellcast.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription per voice buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PacketsEncoded, err = m.Int64Counter("spellcast.opus.packets_encoded",
		metric.WithDescription("Total Opus packets produced by the capture pipeline."),
	); err != nil {
		return nil, err
	}
	if met.DecodeRecoveries, err = m.Int64Counter("spellcast.opus.decode_recoveries",
		metric.WithDescription("Total packets substituted with silence during decode."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("spellcast.segments",
		metric.WithDescription("Total finished voice buffers by outcome."),
	); err != nil {
		return nil, err
	}
	if met.KeywordMatches, err = m.Int64Counter("spellcast.keyword.matches",
		metric.WithDescription("Total keyword detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("spellcast.pipeline.errors",
		metric.WithDescription("Total recoverable pipeline failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("spellcast.queue.drops",
		metric.WithDescription("Total items dropped by bounded queues."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("spellcast.active_captures",
		metric.WithDescription("Number of streaming capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("spellcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment records a finished voice buffer with the given outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordKeywordMatch records a detection of keyword.
func (m *Metrics) RecordKeywordMatch(ctx context.Context, keyword string) {
	m.KeywordMatches.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordPipelineError records a recoverable failure in stage.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordQueueDrops adds n dropped items for the named queue. Non-positive n
// is ignored.
func (m *Metrics) RecordQueueDrops(ctx context.Context, queue string, n int64) {
	if n <= 0 {
		return
	}
	m.QueueDrops.Add(ctx, n, metric.WithAttributes(attribute.String("queue", queue)))
}
