// internal/common/observability/metrics.go
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records trigger-level OpenTelemetry instruments, exported
// through the Prometheus registry served on /metrics.
type Observability struct {
	meterProvider   *metric.MeterProvider
	triggerCounter  otelmetric.Int64Counter
	triggerDuration otelmetric.Float64Histogram
	subscribers     otelmetric.Int64UpDownCounter
}

// New never fails; if the exporter cannot be registered the instruments
// fall back to no-ops.
func New(serviceName string) *Observability {
	var meter otelmetric.Meter
	var provider *metric.MeterProvider

	exporter, err := prometheus.New()
	if err != nil {
		meter = noop.NewMeterProvider().Meter(serviceName)
	} else {
		provider = metric.NewMeterProvider(metric.WithReader(exporter))
		otel.SetMeterProvider(provider)
		meter = provider.Meter(serviceName)
	}

	triggerCounter, _ := meter.Int64Counter(
		"triggers.processed",
		otelmetric.WithDescription("Trigger calls processed by kind and status"),
	)
	triggerDuration, _ := meter.Float64Histogram(
		"triggers.duration",
		otelmetric.WithDescription("Trigger processing duration"),
		otelmetric.WithUnit("ms"),
	)
	subscribers, _ := meter.Int64UpDownCounter(
		"subscribers.connected",
		otelmetric.WithDescription("Open subscriber channels"),
	)

	return &Observability{
		meterProvider:   provider,
		triggerCounter:  triggerCounter,
		triggerDuration: triggerDuration,
		subscribers:     subscribers,
	}
}

// NewNoop returns an Observability whose instruments do nothing.
func NewNoop() *Observability {
	meter := noop.NewMeterProvider().Meter("noop")
	c, _ := meter.Int64Counter("triggers.processed")
	h, _ := meter.Float64Histogram("triggers.duration")
	u, _ := meter.Int64UpDownCounter("subscribers.connected")
	return &Observability{triggerCounter: c, triggerDuration: h, subscribers: u}
}

// RecordTrigger counts one trigger call and its duration.
func (o *Observability) RecordTrigger(ctx context.Context, kind, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("trigger", kind),
		attribute.String("status", status),
	)
	o.triggerCounter.Add(ctx, 1, attrs)
	o.triggerDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// SubscriberDelta adjusts the open-subscriber counter by delta for scope.
func (o *Observability) SubscriberDelta(ctx context.Context, scope string, delta int64) {
	if o == nil {
		return
	}
	o.subscribers.Add(ctx, delta, otelmetric.WithAttributes(attribute.String("scope", scope)))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
