// ABOUTME: OpenTelemetry meters and tracer for agent dispatch, faults, and sends
// ABOUTME: Builds a manual-reader meter provider the CLI summarizes on exit

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/aevatarAI/aevatar-station-sub002/agent"

// Metric names
const (
	MetricDispatched       = "agent.dispatch.total"
	MetricDispatchDuration = "agent.dispatch.duration"
	MetricHandlerFaults    = "agent.faults.handler"
	MetricFrameworkFaults  = "agent.faults.framework"
	MetricSends            = "agent.sends.total"
	MetricNotifications    = "agent.notifications.total"
)

// Send kinds recorded on MetricSends
const (
	SendPublish   = "publish"
	SendDownward  = "downward"
	SendResponse  = "response"
	SendException = "exception"
	SendControl   = "control"
)

// Instruments holds the counters and tracer used by the agent core.
type Instruments struct {
	tracer trace.Tracer

	dispatched       metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	handlerFaults    metric.Int64Counter
	frameworkFaults  metric.Int64Counter
	sends            metric.Int64Counter
	notifications    metric.Int64Counter
}

// New creates instruments from the given providers. Nil providers fall back to
// the otel globals.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(scope)

	i := &Instruments{tracer: tp.Tracer(scope)}
	var err error

	if i.dispatched, err = meter.Int64Counter(MetricDispatched,
		metric.WithDescription("Envelopes dispatched to agents"),
		metric.WithUnit("{envelope}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricDispatched, err)
	}

	if i.dispatchDuration, err = meter.Float64Histogram(MetricDispatchDuration,
		metric.WithDescription("Time spent handling one envelope"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricDispatchDuration, err)
	}

	if i.handlerFaults, err = meter.Int64Counter(MetricHandlerFaults,
		metric.WithDescription("Handler exceptions reported to publishers"),
		metric.WithUnit("{fault}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricHandlerFaults, err)
	}

	if i.frameworkFaults, err = meter.Int64Counter(MetricFrameworkFaults,
		metric.WithDescription("Framework exceptions reported to publishers"),
		metric.WithUnit("{fault}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricFrameworkFaults, err)
	}

	if i.sends, err = meter.Int64Counter(MetricSends,
		metric.WithDescription("Envelopes sent by agents"),
		metric.WithUnit("{envelope}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricSends, err)
	}

	if i.notifications, err = meter.Int64Counter(MetricNotifications,
		metric.WithDescription("State change notifications delivered"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricNotifications, err)
	}

	return i, nil
}

// Default returns instruments on the otel globals, or nil if they cannot be created.
func Default() *Instruments {
	i, err := New(nil, nil)
	if err != nil {
		slog.Default().With("component", "telemetry").Warn("telemetry disabled", "error", err)
		return nil
	}
	return i
}

// StartDispatch opens a span for one envelope and returns a function that ends
// it, recording the outcome.
func (i *Instruments) StartDispatch(ctx context.Context, agentType, shape string) (context.Context, func(error)) {
	if i == nil {
		return ctx, func(error) {}
	}

	attrs := []attribute.KeyValue{
		attribute.String("agent.type", agentType),
		attribute.String("event.shape", shape),
	}
	start := time.Now()
	ctx, span := i.tracer.Start(ctx, "agent.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
	i.dispatched.Add(ctx, 1, metric.WithAttributes(attrs...))

	return ctx, func(err error) {
		i.dispatchDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// HandlerFault counts one handler exception.
func (i *Instruments) HandlerFault(ctx context.Context, agentType, handler string) {
	if i == nil {
		return
	}
	i.handlerFaults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.type", agentType),
		attribute.String("handler", handler),
	))
}

// FrameworkFault counts one framework exception.
func (i *Instruments) FrameworkFault(ctx context.Context, agentType, handler string) {
	if i == nil {
		return
	}
	i.frameworkFaults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.type", agentType),
		attribute.String("handler", handler),
	))
}

// Sent counts one outbound envelope of the given kind.
func (i *Instruments) Sent(ctx context.Context, agentType, kind string) {
	if i == nil {
		return
	}
	i.sends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent.type", agentType),
		attribute.String("send.kind", kind),
	))
}

// Notified counts one delivered state notification.
func (i *Instruments) Notified(ctx context.Context, agentType string) {
	if i == nil {
		return
	}
	i.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.type", agentType)))
}

// Provider is an SDK meter provider read on demand.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	reader        *sdkmetric.ManualReader
}

// NewProvider creates a meter provider backed by a manual reader.
func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:        reader,
	}
}

// Totals collects the current value of every integer counter, summed over attributes.
func (p *Provider) Totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}
