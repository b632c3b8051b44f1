package fetch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry receives one event per completed interpreter round. It is
// the extension point for exporting metrics/traces about how much
// batching and caching a program actually achieved; it never affects
// interpretation.
type Telemetry interface {
	RecordRound(r Round)
}

type noopTelemetry struct{}

func (noopTelemetry) RecordRound(Round) {}

// NoopTelemetry returns a Telemetry that discards every round.
func NoopTelemetry() Telemetry { return noopTelemetry{} }

// OTelTelemetry reports round outcomes as an OpenTelemetry span plus a
// set of counters/histograms, using the global tracer/meter providers
// unless constructed with explicit ones via NewOTelTelemetry.
type OTelTelemetry struct {
	tracer trace.Tracer

	mu          sync.Mutex
	roundCount  metric.Int64Counter
	fetchCount  metric.Int64Counter
	cacheCount  metric.Int64Counter
	roundLength metric.Float64Histogram
}

// NewOTelTelemetry builds a Telemetry backed by the given
// TracerProvider/MeterProvider. Passing nil for either uses the
// globally registered provider (otel.GetTracerProvider /
// otel.GetMeterProvider), which is a documented no-op until the host
// application configures a real SDK.
func NewOTelTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*OTelTelemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	tracer := tp.Tracer("github.com/lambdista/fetch")
	meter := mp.Meter("github.com/lambdista/fetch")

	roundCount, err := meter.Int64Counter("fetch.rounds",
		metric.WithDescription("Number of interpreter rounds executed."))
	if err != nil {
		return nil, err
	}
	fetchCount, err := meter.Int64Counter("fetch.identities_fetched",
		metric.WithDescription("Number of identities resolved via a source call."))
	if err != nil {
		return nil, err
	}
	cacheCount, err := meter.Int64Counter("fetch.identities_cached",
		metric.WithDescription("Number of identities resolved from cache without a source call."))
	if err != nil {
		return nil, err
	}
	roundLength, err := meter.Float64Histogram("fetch.round_duration_ms",
		metric.WithDescription("Wall-clock duration of one interpreter round, in milliseconds."))
	if err != nil {
		return nil, err
	}

	return &OTelTelemetry{
		tracer:      tracer,
		roundCount:  roundCount,
		fetchCount:  fetchCount,
		cacheCount:  cacheCount,
		roundLength: roundLength,
	}, nil
}

// RecordRound opens and immediately ends a span describing r, and
// updates the counters/histogram above. It never blocks on an exporter.
func (t *OTelTelemetry) RecordRound(r Round) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.Int("fetch.round.index", r.Index),
		attribute.Int("fetch.round.sources", len(r.Requested)),
	}
	if r.Err != nil {
		attrs = append(attrs, attribute.Bool("fetch.round.failed", true))
	}

	_, span := t.tracer.Start(ctx, "fetch.round", trace.WithAttributes(attrs...))
	if r.Err != nil {
		span.RecordError(r.Err)
	}
	span.End()

	t.roundCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.fetchCount.Add(ctx, int64(countIdentities(r.Fetched)), metric.WithAttributes(attrs...))
	t.cacheCount.Add(ctx, int64(countIdentities(r.CachedHits)), metric.WithAttributes(attrs...))
	t.roundLength.Record(ctx, float64(r.Duration.Microseconds())/1000.0, metric.WithAttributes(attrs...))
}

func countIdentities(m map[string][]Identity) int {
	n := 0
	for _, ids := range m {
		n += len(ids)
	}
	return n
}
