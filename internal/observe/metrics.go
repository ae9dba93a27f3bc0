// Package observe provides application-wide observability primitives for
// rtcbroker: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that the full instrument
// set can be scraped alongside the JSON /metrics contract. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all rtcbroker metrics.
const meterName = "github.com/MrWong99/rtcbroker"

// Metrics holds all OpenTelemetry metric instruments for the broker.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Gauges ---

	// RoomsActive tracks the number of live room actors.
	RoomsActive metric.Int64UpDownCounter

	// PeersActive tracks the number of registered peers across all rooms.
	PeersActive metric.Int64UpDownCounter

	// --- Counters ---

	// FramesRelayed counts signaling frames forwarded to a destination
	// peer. Use with attribute: attribute.String("type", ...)
	FramesRelayed metric.Int64Counter

	// ErrorFrames counts ERROR frames emitted to clients. Use with
	// attribute: attribute.String("kind", ...)
	ErrorFrames metric.Int64Counter

	// PeersExpired counts peers removed by the heartbeat sweep.
	PeersExpired metric.Int64Counter

	// MessagesQueued counts signaling frames buffered for destinations
	// that had not yet registered.
	MessagesQueued metric.Int64Counter

	// --- Histograms ---

	// FrameDispatchDuration tracks how long the room actor spends handling
	// one inbound frame. Use with attribute: attribute.String("type", ...)
	FrameDispatchDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// dispatchBuckets defines histogram bucket boundaries (in seconds) sized for
// in-memory frame handling, which finishes well under typical network RTTs.
var dispatchBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gauges (UpDownCounters).
	if met.RoomsActive, err = m.Int64UpDownCounter("rtcbroker.rooms.active",
		metric.WithDescription("Number of live room actors."),
	); err != nil {
		return nil, err
	}
	if met.PeersActive, err = m.Int64UpDownCounter("rtcbroker.peers.active",
		metric.WithDescription("Number of registered peers across all rooms."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesRelayed, err = m.Int64Counter("rtcbroker.frames.relayed",
		metric.WithDescription("Total signaling frames forwarded to a destination peer, by type."),
	); err != nil {
		return nil, err
	}
	if met.ErrorFrames, err = m.Int64Counter("rtcbroker.error.frames",
		metric.WithDescription("Total ERROR frames emitted to clients, by kind."),
	); err != nil {
		return nil, err
	}
	if met.PeersExpired, err = m.Int64Counter("rtcbroker.peers.expired",
		metric.WithDescription("Total peers removed by the heartbeat sweep."),
	); err != nil {
		return nil, err
	}
	if met.MessagesQueued, err = m.Int64Counter("rtcbroker.messages.queued",
		metric.WithDescription("Total signaling frames buffered for not-yet-registered destinations."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.FrameDispatchDuration, err = m.Float64Histogram("rtcbroker.frame.dispatch.duration",
		metric.WithDescription("Room actor frame handling latency by message type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(dispatchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("rtcbroker.http.request.duration",
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

// RecordRelay records one forwarded signaling frame of the given type.
func (m *Metrics) RecordRelay(ctx context.Context, msgType string) {
	m.FramesRelayed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}

// RecordErrorFrame records one ERROR frame emitted with the given kind.
func (m *Metrics) RecordErrorFrame(ctx context.Context, kind string) {
	m.ErrorFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDispatch records the handling latency of one inbound frame.
func (m *Metrics) RecordDispatch(ctx context.Context, msgType string, seconds float64) {
	m.FrameDispatchDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}
