// Package telemetry provides OpenTelemetry metrics for the export pipeline
// with an optional Prometheus endpoint.
package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/arlden/pdf-exporter"

// prometheusEnabled gates the /metrics endpoint.
var prometheusEnabled atomic.Bool

// Config configures the metrics system.
type Config struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool
}

// Metrics holds the pipeline's metric instruments. A nil *Metrics is valid
// and records nothing, so wiring is optional.
type Metrics struct {
	exportsTotal   metric.Int64Counter
	renderDuration metric.Float64Histogram
	engineRestarts metric.Int64Counter
}

// NewMetrics initializes the meter provider and instruments. queueDepth, if
// non-nil, is sampled on collection as the render queue depth gauge.
func NewMetrics(cfg Config, queueDepth func() int64) (*Metrics, error) {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		)),
	}

	if cfg.EnablePrometheus {
		exporter, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
		prometheusEnabled.Store(true)
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return newInstruments(mp.Meter(meterName), queueDepth)
}

// newInstruments creates the instruments on the given meter. Split out so
// tests can use a manual reader.
func newInstruments(meter metric.Meter, queueDepth func() int64) (*Metrics, error) {
	exportsTotal, err := meter.Int64Counter("pdf_exports_total",
		metric.WithDescription("Export requests by outcome"))
	if err != nil {
		return nil, err
	}

	renderDuration, err := meter.Float64Histogram("pdf_render_duration_seconds",
		metric.WithDescription("Wall-clock duration of successful renders"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	engineRestarts, err := meter.Int64Counter("render_engine_restarts_total",
		metric.WithDescription("Engine instances dropped after disconnect"))
	if err != nil {
		return nil, err
	}

	if queueDepth != nil {
		_, err = meter.Int64ObservableGauge("render_queue_depth",
			metric.WithDescription("Jobs waiting in the render queue"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(queueDepth())
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}

	return &Metrics{
		exportsTotal:   exportsTotal,
		renderDuration: renderDuration,
		engineRestarts: engineRestarts,
	}, nil
}

// RecordExport counts one export request. outcome is "ok", "denied", or
// "error"; reason is set for denials.
func (m *Metrics) RecordExport(ctx context.Context, outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.exportsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if outcome == "ok" {
		m.renderDuration.Record(ctx, duration.Seconds())
	}
}

// RecordEngineRestart counts one dropped engine instance.
func (m *Metrics) RecordEngineRestart(ctx context.Context) {
	if m == nil {
		return
	}
	m.engineRestarts.Add(ctx, 1)
}

// PrometheusHandler returns the /metrics handler, or a 404 handler when
// Prometheus export is not enabled.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !prometheusEnabled.Load() {
			http.NotFound(w, r)
			return
		}
		promhttp.Handler().ServeHTTP(w, r)
	})
}
