package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/songzhibin97/eventflow/events"
)

// Run and node outcomes recorded in the "status" attribute.
const (
	StatusOK          = "ok"
	StatusInterrupted = "interrupted"
	StatusError       = "error"
)

// Metrics records workflow metrics from notifications.
//
// Instruments:
//   - eventflow.workflow.runs (Int64Counter): finished Run or Resume calls,
//     with attribute status ("ok", "interrupted" or "error")
//   - eventflow.node.executions (Int64Counter): node executions, with
//     attributes node and status
//   - eventflow.node.duration (Float64Histogram): node execution time in
//     seconds, with attributes node and status
type Metrics struct {
	runs       metric.Int64Counter
	executions metric.Int64Counter
	duration   metric.Float64Histogram

	mu      sync.Mutex
	started map[string]time.Time // run id -> start of the running node
}

var _ events.EventHandler = (*Metrics)(nil)

// NewMetrics creates Metrics using the global MeterProvider. Without a
// configured provider noop instruments are used.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsWithMeter creates Metrics using the provided meter.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	// On error the API returns noop instruments.
	runs, _ := meter.Int64Counter(
		"eventflow.workflow.runs",
		metric.WithDescription("Total number of finished workflow runs"),
		metric.WithUnit("{run}"),
	)
	executions, _ := meter.Int64Counter(
		"eventflow.node.executions",
		metric.WithDescription("Total number of node executions"),
		metric.WithUnit("{execution}"),
	)
	duration, _ := meter.Float64Histogram(
		"eventflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	return &Metrics{
		runs:       runs,
		executions: executions,
		duration:   duration,
		started:    make(map[string]time.Time),
	}
}

// Register subscribes the metrics to every workflow notification on bus.
func (m *Metrics) Register(bus *events.EventBus) {
	bus.SubscribeAll(m)
}

// Unregister removes the metrics from bus.
func (m *Metrics) Unregister(bus *events.EventBus) bool {
	return bus.UnsubscribeAll(m)
}

// Handle implements events.EventHandler.
func (m *Metrics) Handle(ctx context.Context, ev events.Event) error {
	switch ev.Type {
	case events.WorkflowNodeStart:
		m.mu.Lock()
		m.started[ev.RunID] = timestamp(ev)
		m.mu.Unlock()
	case events.WorkflowNodeEnd:
		m.recordNode(ctx, ev, StatusOK)
	case events.WorkflowInterrupt:
		m.recordNode(ctx, ev, StatusInterrupted)
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", StatusInterrupted)))
	case events.WorkflowEnd:
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", StatusOK)))
	case events.Error:
		m.recordNode(ctx, ev, StatusError)
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", StatusError)))
	}
	return nil
}

func (m *Metrics) recordNode(ctx context.Context, ev events.Event, status string) {
	m.mu.Lock()
	start, ok := m.started[ev.RunID]
	delete(m.started, ev.RunID)
	m.mu.Unlock()
	// only errors raised by a running node count as an execution
	if !ok {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("node", ev.Node),
		attribute.String("status", status),
	)
	m.executions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, timestamp(ev).Sub(start).Seconds(), attrs)
}
