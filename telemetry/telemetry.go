// Package telemetry wires the pipeline's tracer and meter into OpenTelemetry,
// exported via OTLP/HTTP. Configuration comes from the standard OTEL_* env
// vars; components that receive a nil *Instruments record no metrics, and
// components given a nil clawforge.Tracer create no spans.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	clawforge "github.com/clawforge/clawforge"
)

const scopeName = "github.com/clawforge/clawforge"

// Instruments holds every OTEL instrument the pipeline's components record
// against. The Scheduler, Planner and Supervisor take it as a constructor
// option and record the subset they need.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	TriggersFired    metric.Int64Counter
	EventsPersisted  metric.Int64Counter
	ProviderRaceWon  metric.Int64Counter
	ProviderRaceLost metric.Int64Counter
	RunsCompleted    metric.Int64Counter
	RunsFailed       metric.Int64Counter
	BudgetWarnings   metric.Int64Counter
	BudgetExceeded   metric.Int64Counter

	PlanLatency metric.Float64Histogram
}

// Init sets up trace and metric providers with OTLP/HTTP exporters and
// registers them as the global OTEL providers. The returned shutdown func
// must be called (once) on process exit to flush pending data.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	ins, err := newInstruments(tp.Tracer(scopeName), mp.Meter(scopeName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return ins, shutdown, nil
}

func newInstruments(tracer trace.Tracer, meter metric.Meter) (*Instruments, error) {
	ins := &Instruments{Tracer: tracer, Meter: meter}

	var err error
	if ins.TriggersFired, err = meter.Int64Counter("clawforge.scheduler.triggers_fired"); err != nil {
		return nil, err
	}
	if ins.EventsPersisted, err = meter.Int64Counter("clawforge.events.persisted"); err != nil {
		return nil, err
	}
	if ins.ProviderRaceWon, err = meter.Int64Counter("clawforge.planner.race_won"); err != nil {
		return nil, err
	}
	if ins.ProviderRaceLost, err = meter.Int64Counter("clawforge.planner.race_lost"); err != nil {
		return nil, err
	}
	if ins.RunsCompleted, err = meter.Int64Counter("clawforge.runs.completed"); err != nil {
		return nil, err
	}
	if ins.RunsFailed, err = meter.Int64Counter("clawforge.runs.failed"); err != nil {
		return nil, err
	}
	if ins.BudgetWarnings, err = meter.Int64Counter("clawforge.budget.warnings"); err != nil {
		return nil, err
	}
	if ins.BudgetExceeded, err = meter.Int64Counter("clawforge.budget.exceeded"); err != nil {
		return nil, err
	}
	if ins.PlanLatency, err = meter.Float64Histogram("clawforge.planner.latency_ms"); err != nil {
		return nil, err
	}
	return ins, nil
}

// compile-time check that the root package's Tracer abstraction stays
// satisfiable by an OTEL-backed implementation.
var _ clawforge.Tracer = (*otelTracer)(nil)
