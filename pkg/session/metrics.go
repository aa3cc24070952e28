package session

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	started      metric.Int64Counter
	ended        metric.Int64Counter
	chatSent     metric.Int64Counter
	chatReceived metric.Int64Counter
	capFailures  metric.Int64Counter
}

func newMetrics(m metric.Meter) *metrics {
	if m == nil {
		m = noop.NewMeterProvider().Meter("peercall/session")
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = noop.NewMeterProvider().Meter("").Int64Counter(name)
		}
		return c
	}
	return &metrics{
		started:      counter("peercall.sessions.started", "Sessions that entered connecting"),
		ended:        counter("peercall.sessions.ended", "Sessions torn down"),
		chatSent:     counter("peercall.chat.sent", "Chat messages transmitted"),
		chatReceived: counter("peercall.chat.received", "Chat messages received"),
		capFailures:  counter("peercall.capability.failures", "Local capture acquisitions that failed"),
	}
}

func (m *metrics) inc(c metric.Int64Counter) {
	c.Add(context.Background(), 1)
}
