package mailroute

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailroute"
)

// Metric operation groups.
const (
	opSubmit    = "submit"
	opGet       = "get"
	opList      = "list"
	opLifecycle = "lifecycle"
	opDequeue   = "dequeue"
	opReclaim   = "reclaim"
)

// opInstruments is the latency/count/error triple kept per operation group.
type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

// otelInstrumentation holds OpenTelemetry instrumentation for the engine.
type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool
	ops            map[string]*opInstruments
	outcomes       metric.Int64Counter
	purged         metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)
	o.ops = make(map[string]*opInstruments)

	for _, op := range []string{opSubmit, opGet, opList, opLifecycle, opDequeue, opReclaim} {
		inst := &opInstruments{}
		var err error
		inst.latency, err = meter.Float64Histogram(
			"mailroute."+op+".duration",
			metric.WithDescription("Duration of "+op+" operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}
		inst.count, err = meter.Int64Counter(
			"mailroute."+op+".count",
			metric.WithDescription("Number of "+op+" operations"),
		)
		if err != nil {
			return err
		}
		inst.errors, err = meter.Int64Counter(
			"mailroute."+op+".errors",
			metric.WithDescription("Number of "+op+" errors"),
		)
		if err != nil {
			return err
		}
		o.ops[op] = inst
	}

	var err error
	o.outcomes, err = meter.Int64Counter(
		"mailroute.submit.outcomes",
		metric.WithDescription("Submitted messages by routing outcome"),
	)
	if err != nil {
		return err
	}

	o.purged, err = meter.Int64Counter(
		"mailroute.messages.purged",
		metric.WithDescription("Messages permanently removed"),
	)
	return err
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err when non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record records latency, count and errors for an operation group.
func (o *otelInstrumentation) record(ctx context.Context, op string, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	inst, ok := o.ops[op]
	if !ok {
		return
	}
	set := metric.WithAttributes(attrs...)
	inst.latency.Record(ctx, duration.Seconds(), set)
	inst.count.Add(ctx, 1, set)
	if err != nil {
		inst.errors.Add(ctx, 1, set)
	}
}

// recordOutcome counts a routing outcome.
func (o *otelInstrumentation) recordOutcome(ctx context.Context, outcome Outcome) {
	if !o.metricsEnabled {
		return
	}
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
}

// recordPurged counts permanently removed messages.
func (o *otelInstrumentation) recordPurged(ctx context.Context, reason string, n int64) {
	if !o.metricsEnabled || n == 0 {
		return
	}
	o.purged.Add(ctx, n, metric.WithAttributes(attribute.String("reason", reason)))
}
