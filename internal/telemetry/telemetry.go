// Package telemetry sets up OpenTelemetry metrics and traces exported to
// rotating files next to the logs.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const ServiceName = "peercall"

type Options struct {
	Enabled bool
	// File receives metrics; traces go to the same directory with a _traces suffix.
	File     string
	Interval time.Duration
	Version  string
}

// Telemetry holds the meter and tracer handed to the rest of the program.
type Telemetry struct {
	Meter    metric.Meter
	Tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Shutdown flushes the exporters and closes their files.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// Disabled returns no-op instruments.
func Disabled() *Telemetry {
	return &Telemetry{
		Meter:  metricnoop.NewMeterProvider().Meter(ServiceName),
		Tracer: tracenoop.NewTracerProvider().Tracer(ServiceName),
	}
}

func rotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// tracesPath derives the trace file from the metrics file.
func tracesPath(metricsFile string) string {
	ext := filepath.Ext(metricsFile)
	return metricsFile[:len(metricsFile)-len(ext)] + "_traces" + ext
}

// Setup installs global meter and tracer providers when enabled.
func Setup(ctx context.Context, opts Options) (*Telemetry, error) {
	if !opts.Enabled {
		return Disabled(), nil
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}
	metricsFile := rotatingFile(opts.File)
	traceFile := rotatingFile(tracesPath(opts.File))

	metricExporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(metricsFile),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	traceExporter, err := stdouttrace.New(
		stdouttrace.WithWriter(traceFile),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(opts.Interval)),
		),
		sdkmetric.WithResource(res),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		keep := func(what string, err error) {
			if err == nil {
				return
			}
			slog.Error("Telemetry shutdown failed", "component", what, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		keep("tracer provider", tp.Shutdown(ctx))
		keep("meter provider", mp.Shutdown(ctx))
		keep("trace file", traceFile.Close())
		keep("metrics file", metricsFile.Close())
		return firstErr
	}

	return &Telemetry{
		Meter:    mp.Meter(ServiceName),
		Tracer:   tp.Tracer(ServiceName),
		shutdown: shutdown,
	}, nil
}
