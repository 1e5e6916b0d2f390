// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// ReconcileMetrics are the instruments recorded by the reconciliation loop.
type ReconcileMetrics struct {
	passes       otelmetric.Int64Counter
	transitions  otelmetric.Int64Counter
	passDuration otelmetric.Float64Histogram
}

// NewReconcileMetrics creates the reconciliation instruments on meter.
func NewReconcileMetrics(meter otelmetric.Meter) (*ReconcileMetrics, error) {
	passes, err := meter.Int64Counter("sceneplane.reconcile.passes",
		otelmetric.WithDescription("Reconciliation passes by outcome"))
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("sceneplane.reconcile.transitions",
		otelmetric.WithDescription("Job status transitions written by the reconciler"))
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram("sceneplane.reconcile.pass_duration",
		otelmetric.WithDescription("Duration of a reconciliation pass"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{passes: passes, transitions: transitions, passDuration: passDuration}, nil
}

// Pass records a finished pass. outcome is "ok", "skipped" or "error".
func (m *ReconcileMetrics) Pass(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	m.passes.Add(ctx, 1, attrs)
	if outcome != "skipped" {
		m.passDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// Transition records a job moving to status to.
func (m *ReconcileMetrics) Transition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("to", to)))
}

// RegisterOutstandingGauge exposes the number of non-terminal jobs, read from count at collection time.
func RegisterOutstandingGauge(meter otelmetric.Meter, count func(context.Context) (int64, error)) error {
	_, err := meter.Int64ObservableGauge("sceneplane.jobs.outstanding",
		otelmetric.WithDescription("Jobs that have not reached a terminal status"),
		otelmetric.WithInt64Callback(func(ctx context.Context, o otelmetric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}
