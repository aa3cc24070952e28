package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func keepGlobals(t *testing.T) {
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestDisabled(t *testing.T) {
	tel, err := Setup(context.Background(), Options{})
	require.NoError(t, err)
	c, err := tel.Meter.Int64Counter("peercall.test")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupExportsOnShutdown(t *testing.T) {
	keepGlobals(t)
	file := filepath.Join(t.TempDir(), "logs", "metrics.log")

	tel, err := Setup(context.Background(), Options{Enabled: true, File: file, Interval: time.Hour, Version: "test"})
	require.NoError(t, err)

	c, err := tel.Meter.Int64Counter("peercall.test.counter")
	require.NoError(t, err)
	c.Add(context.Background(), 3)
	_, span := tel.Tracer.Start(context.Background(), "assistant.summarize")
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))

	metrics, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "peercall.test.counter")

	traces, err := os.ReadFile(tracesPath(file))
	require.NoError(t, err)
	assert.Contains(t, string(traces), "assistant.summarize")
}

func TestTracesPath(t *testing.T) {
	assert.Equal(t, "logs/peercall_metrics_traces.log", tracesPath("logs/peercall_metrics.log"))
	assert.Equal(t, "metrics_traces", tracesPath("metrics"))
}
