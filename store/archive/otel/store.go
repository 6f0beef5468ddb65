// Package otel wraps a store.Archiver with OpenTelemetry spans and
// metrics for every purged message written to cold storage.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/rbaliyan/mailroute/store/archive/otel"

// Archiver instruments another store.Archiver.
type Archiver struct {
	next store.Archiver
	opts *options

	tracer trace.Tracer

	writes   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	bytes    metric.Int64Histogram
}

var _ store.Archiver = (*Archiver)(nil)

// New wraps next.
func New(next store.Archiver, opts ...Option) (*Archiver, error) {
	o := newOptions(opts)
	a := &Archiver{next: next, opts: o}

	if o.tracing {
		a.tracer = o.tp.Tracer(scope)
	}
	if o.metrics {
		if err := a.instruments(o.mp.Meter(scope)); err != nil {
			return nil, fmt.Errorf("archive instruments: %w", err)
		}
	}
	return a, nil
}

func (a *Archiver) instruments(meter metric.Meter) error {
	var err error
	if a.writes, err = meter.Int64Counter("mailroute.archive.writes",
		metric.WithDescription("Purged messages written to the archive")); err != nil {
		return err
	}
	if a.failures, err = meter.Int64Counter("mailroute.archive.failures",
		metric.WithDescription("Archive writes that failed")); err != nil {
		return err
	}
	if a.duration, err = meter.Float64Histogram("mailroute.archive.duration",
		metric.WithDescription("Archive write latency"), metric.WithUnit("s")); err != nil {
		return err
	}
	a.bytes, err = meter.Int64Histogram("mailroute.archive.body_size",
		metric.WithDescription("Body size of archived messages"), metric.WithUnit("By"))
	return err
}

// Archive forwards rec and records the outcome.
func (a *Archiver) Archive(ctx context.Context, rec *store.ArchiveRecord) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", a.opts.serviceName),
		attribute.String("mailroute.archive.reason", rec.Reason),
	}

	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "mailroute.archive",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		defer span.End()
	}

	started := time.Now()
	uri, err := a.next.Archive(ctx, rec)
	elapsed := time.Since(started)

	a.record(ctx, rec, attrs, elapsed, err)

	if span != nil {
		if rec.Message != nil {
			span.SetAttributes(attribute.Int64("mailroute.message.id", rec.Message.ID))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("mailroute.archive.uri", uri))
		}
	}

	if a.opts.slowAfter > 0 && elapsed > a.opts.slowAfter {
		a.opts.logger.Warn("slow archive write",
			"reason", rec.Reason,
			"elapsed", elapsed,
			"threshold", a.opts.slowAfter,
		)
	}
	return uri, err
}

func (a *Archiver) record(ctx context.Context, rec *store.ArchiveRecord, attrs []attribute.KeyValue, elapsed time.Duration, err error) {
	if !a.opts.metrics {
		return
	}
	set := metric.WithAttributes(attrs...)
	a.writes.Add(ctx, 1, set)
	a.duration.Record(ctx, elapsed.Seconds(), set)
	if rec.Message != nil {
		a.bytes.Record(ctx, int64(len(rec.Message.Body)), set)
	}
	if err != nil {
		a.failures.Add(ctx, 1, set)
	}
}
