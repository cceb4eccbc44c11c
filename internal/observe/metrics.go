// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge so that the
// assistant can be scraped via a standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/akiyumeyou/oshaberi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks how long one turn capture takes, from the
	// start of listening to the finalized outcome.
	CaptureDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks playback duration per spoken utterance.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finalized user turns. Use with attribute:
	//   attribute.String("intent", ...)
	Turns metric.Int64Counter

	// Backchannels counts backchannel dispositions. Use with attribute:
	//   attribute.String("outcome", "spoken"|"queued"|"dropped")
	Backchannels metric.Int64Counter

	// QuizAnswers counts quiz answers. Use with attribute:
	//   attribute.String("result", "correct"|"wrong")
	QuizAnswers metric.Int64Counter

	// ProviderErrors counts collaborator errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	// Single-user design means 0 or 1, which makes a stuck session obvious.
	ActiveSessions metric.Int64UpDownCounter

	// TopicStockSize tracks the current size of the topic stock.
	TopicStockSize metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("oshaberi.capture.duration",
		metric.WithDescription("Latency of one turn capture."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("oshaberi.llm.duration",
		metric.WithDescription("Latency of LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("oshaberi.tts.duration",
		metric.WithDescription("Playback duration per spoken utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("oshaberi.turns",
		metric.WithDescription("Total finalized user turns by intent."),
	); err != nil {
		return nil, err
	}
	if met.Backchannels, err = m.Int64Counter("oshaberi.backchannels",
		metric.WithDescription("Total backchannel dispositions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QuizAnswers, err = m.Int64Counter("oshaberi.quiz.answers",
		metric.WithDescription("Total quiz answers by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("oshaberi.provider.errors",
		metric.WithDescription("Total collaborator errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("oshaberi.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.TopicStockSize, err = m.Int64UpDownCounter("oshaberi.topic_stock.size",
		metric.WithDescription("Current number of stocked topics."),
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

// RecordTurn records a finalized user turn with its intent.
func (m *Metrics) RecordTurn(ctx context.Context, intent string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent", intent)),
	)
}

// RecordBackchannel records a backchannel disposition.
func (m *Metrics) RecordBackchannel(ctx context.Context, outcome string) {
	m.Backchannels.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordQuizAnswer records a quiz answer result.
func (m *Metrics) RecordQuizAnswer(ctx context.Context, correct bool) {
	result := "wrong"
	if correct {
		result = "correct"
	}
	m.QuizAnswers.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordProviderError records a collaborator error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
