// Package observe provides the observability primitives shared by voxquill:
// OpenTelemetry metrics, tracing, trace-aware logging and the HTTP middleware
// for the status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [InitProvider]. Tests should use [NewMetrics] with a
// dedicated [metric.MeterProvider] instead of [DefaultMetrics] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxquill metrics.
const meterName = "github.com/MrWong99/voxquill"

// Chunk outcome labels for [Metrics.Chunks].
const (
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusDecodeError = "decode_error"
	StatusDropped     = "dropped"
	StatusBreakerOpen = "breaker_open"
)

// Metrics holds the OpenTelemetry instruments for the application.
type Metrics struct {
	// ChunkDuration is the latency of one chunk transcription.
	ChunkDuration metric.Float64Histogram

	// ProvisionDuration is the duration of an engine initialisation,
	// downloads included. Attributes: variant, status.
	ProvisionDuration metric.Float64Histogram

	// DownloadBytes counts bytes fetched by the provisioner. Attribute: asset.
	DownloadBytes metric.Int64Counter

	// Chunks counts chunks reaching a terminal state. Attribute: status.
	Chunks metric.Int64Counter

	// EngineInits counts engine initialisation attempts. Attributes: variant,
	// status.
	EngineInits metric.Int64Counter

	// InFlight is the number of chunks queued or being transcribed.
	InFlight metric.Int64UpDownCounter

	// ActiveRecordings is the number of recordings currently capturing.
	ActiveRecordings metric.Int64UpDownCounter

	// HTTPRequestDuration tracks status server latency. Attributes: method,
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers a fast embedded model on a short chunk up to a large
// model on a 30 s chunk.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// provisionBuckets spans a cached load up to a slow multi-gigabyte download.
var provisionBuckets = []float64{
	0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunkDuration, err = m.Float64Histogram("voxquill.chunk.duration",
		metric.WithDescription("Latency of transcribing one audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProvisionDuration, err = m.Float64Histogram("voxquill.provision.duration",
		metric.WithDescription("Duration of engine provisioning and load."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(provisionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DownloadBytes, err = m.Int64Counter("voxquill.download.bytes",
		metric.WithDescription("Bytes downloaded while provisioning, by asset."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("voxquill.chunks",
		metric.WithDescription("Chunks reaching a terminal state, by status."),
	); err != nil {
		return nil, err
	}
	if met.EngineInits, err = m.Int64Counter("voxquill.engine.inits",
		metric.WithDescription("Engine initialisation attempts by variant and status."),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("voxquill.transcriptions.in_flight",
		metric.WithDescription("Chunks queued or being transcribed."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("voxquill.recordings.active",
		metric.WithDescription("Recordings currently capturing audio."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxquill.http.request.duration",
		metric.WithDescription("Status server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunk records a chunk's terminal status and, for chunks that reached
// the engine, its latency.
func (m *Metrics) RecordChunk(ctx context.Context, status string, latency time.Duration) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if latency > 0 {
		m.ChunkDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(Attr("status", status)))
	}
}

// RecordEngineInit records one initialisation attempt and its duration.
func (m *Metrics) RecordEngineInit(ctx context.Context, variant, status string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("variant", variant), Attr("status", status))
	m.EngineInits.Add(ctx, 1, attrs)
	m.ProvisionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDownload adds n downloaded bytes for asset.
func (m *Metrics) RecordDownload(ctx context.Context, asset string, n int64) {
	m.DownloadBytes.Add(ctx, n, metric.WithAttributes(Attr("asset", asset)))
}
