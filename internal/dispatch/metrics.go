package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "fandomassenger/internal/dispatch"

// instruments wraps the otel tracer and meters used by the engine. The
// global providers are no-ops until the process installs real ones.
type instruments struct {
	tracer   trace.Tracer
	attempts metric.Int64Counter
	results  metric.Int64Counter
	latency  metric.Float64Histogram
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	in := &instruments{tracer: tp.Tracer(instrumentationName)}

	var err error
	in.attempts, err = meter.Int64Counter(
		"fandomassenger.dispatch.attempts",
		metric.WithDescription("Post requests issued"),
	)
	if err != nil {
		return nil, err
	}
	in.results, err = meter.Int64Counter(
		"fandomassenger.dispatch.results",
		metric.WithDescription("Recipient outcomes by status and reason"),
	)
	if err != nil {
		return nil, err
	}
	in.latency, err = meter.Float64Histogram(
		"fandomassenger.dispatch.duration",
		metric.WithDescription("Time spent per recipient, including pacing and retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (in *instruments) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(Result)) {
	ctx, span := in.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	return ctx, func(res Result) {
		span.SetAttributes(
			attribute.String("dispatch.status", string(res.Status)),
			attribute.Int("dispatch.attempts", res.Attempts),
		)
		if res.Status == StatusFailed {
			if res.Err != nil {
				span.RecordError(res.Err)
			}
			span.SetStatus(codes.Error, res.Reason)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (in *instruments) recordAttempt(ctx context.Context, kind TargetKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Label(err)
	}
	in.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", string(kind)),
		attribute.String("outcome", outcome),
	))
}

func (in *instruments) recordResult(ctx context.Context, res Result, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("target", string(res.Target)),
		attribute.String("status", string(res.Status)),
		attribute.String("reason", res.Reason),
	)
	in.results.Add(ctx, 1, attrs)
	in.latency.Record(ctx, d.Seconds(), attrs)
}
