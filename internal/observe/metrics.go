// Package observe provides application-wide observability primitives for
// Voxcast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxcast metrics.
const meterName = "github.com/voxcast/voxcast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks TTS synthesis latency, including polling
	// time for job-based providers. Use with attribute:
	//   attribute.String("provider", ...)
	SynthesisDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// VoiceoversGenerated counts completed voiceovers. Use with attributes:
	//   attribute.String("voice", ...), attribute.String("plan", ...)
	VoiceoversGenerated metric.Int64Counter

	// CreditsDebited counts credits successfully debited.
	CreditsDebited metric.Int64Counter

	// RequestsRejected counts rejected generation requests. Use with attribute:
	//   attribute.String("reason", ...)
	RequestsRejected metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts synthesis failures. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// DebitFailures counts debits that failed after a voiceover was
	// delivered. These are swallowed on the request path, so the counter is
	// the only place they surface besides the log.
	DebitFailures metric.Int64Counter

	// --- Gauges ---

	// InFlightGenerations tracks generation requests currently in the pipeline.
	InFlightGenerations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Synthesis
// can take tens of seconds when a job-based provider is polling, so the
// buckets stretch further than typical HTTP-serving defaults.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("voxcast.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VoiceoversGenerated, err = m.Int64Counter("voxcast.voiceovers.generated",
		metric.WithDescription("Total completed voiceovers by voice and plan."),
	); err != nil {
		return nil, err
	}
	if met.CreditsDebited, err = m.Int64Counter("voxcast.credits.debited",
		metric.WithDescription("Total credits debited for completed voiceovers."),
	); err != nil {
		return nil, err
	}
	if met.RequestsRejected, err = m.Int64Counter("voxcast.requests.rejected",
		metric.WithDescription("Total rejected generation requests by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxcast.provider.errors",
		metric.WithDescription("Total synthesis failures by provider."),
	); err != nil {
		return nil, err
	}
	if met.DebitFailures, err = m.Int64Counter("voxcast.ledger.debit_failures",
		metric.WithDescription("Total debits that failed after delivery."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.InFlightGenerations, err = m.Int64UpDownCounter("voxcast.generate.in_flight",
		metric.WithDescription("Generation requests currently in the pipeline."),
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

// RecordVoiceover records one completed voiceover with the standard
// attribute set.
func (m *Metrics) RecordVoiceover(ctx context.Context, voice, plan string) {
	m.VoiceoversGenerated.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("voice", voice),
			attribute.String("plan", plan),
		),
	)
}

// RecordRejection records one rejected request by reason.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.RequestsRejected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSynthesis records one synthesis call's latency for the named
// provider. Failed calls are recorded too; a slow failure is still load.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider string, seconds float64) {
	m.SynthesisDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordDebitFailure counts a debit that failed after the voiceover was
// already delivered.
func (m *Metrics) RecordDebitFailure(ctx context.Context) {
	m.DebitFailures.Add(ctx, 1)
}

// RecordProviderError records one synthesis failure for the named provider.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
