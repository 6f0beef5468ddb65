package otel

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the instrumented archiver.
type Option func(*options)

type options struct {
	tracing     bool
	metrics     bool
	serviceName string
	tp          trace.TracerProvider
	mp          metric.MeterProvider

	// slowAfter > 0 logs a warning for writes that take longer.
	slowAfter time.Duration
	logger    *slog.Logger
}

func newOptions(opts []Option) *options {
	o := &options{
		tracing:     true,
		metrics:     true,
		serviceName: "mailroute",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	if o.mp == nil {
		o.mp = otel.GetMeterProvider()
	}
	return o
}

// WithTracing toggles a span per archived message. On by default.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracing = enabled }
}

// WithMetrics toggles the archive write instruments. On by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

// WithServiceName sets the service.name attribute. Defaults to "mailroute".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// WithSlowWriteWarning logs archive writes slower than d. Zero disables it.
func WithSlowWriteWarning(d time.Duration, logger *slog.Logger) Option {
	return func(o *options) {
		o.slowAfter = d
		if logger != nil {
			o.logger = logger
		}
	}
}
