package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/songzhibin97/eventflow/events"
)

// instrumentationName is the scope name for eventflow tracing and metrics.
const instrumentationName = "github.com/songzhibin97/eventflow"

// Tracer turns workflow notifications into spans: one "eventflow.workflow.run"
// span per Run or Resume call and one "eventflow.node.execute" child span per
// node execution.
type Tracer struct {
	tracer trace.Tracer
	mu     sync.Mutex
	runs   map[string]*runSpans
}

type runSpans struct {
	ctx  context.Context
	run  trace.Span
	node trace.Span
}

var _ events.EventHandler = (*Tracer)(nil)

// NewTracer creates a Tracer using the global TracerProvider. Without a
// configured provider the noop tracer is used.
func NewTracer() *Tracer {
	return NewTracerWithTracer(otel.Tracer(instrumentationName))
}

// NewTracerWithTracer creates a Tracer using the provided tracer.
func NewTracerWithTracer(tracer trace.Tracer) *Tracer {
	return &Tracer{
		tracer: tracer,
		runs:   make(map[string]*runSpans),
	}
}

// Register subscribes the tracer to every workflow notification on bus.
func (t *Tracer) Register(bus *events.EventBus) {
	bus.SubscribeAll(t)
}

// Unregister removes the tracer from bus.
func (t *Tracer) Unregister(bus *events.EventBus) bool {
	return bus.UnsubscribeAll(t)
}

// Handle implements events.EventHandler.
func (t *Tracer) Handle(ctx context.Context, ev events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := timestamp(ev)
	switch ev.Type {
	case events.WorkflowStart:
		if prev, ok := t.runs[ev.RunID]; ok {
			prev.end(ts, codes.Unset, "")
		}
		resuming, _ := ev.Data["resuming"].(bool)
		runCtx, span := t.tracer.Start(ctx, "eventflow.workflow.run",
			trace.WithAttributes(
				attribute.String("eventflow.run_id", ev.RunID),
				attribute.Bool("eventflow.resuming", resuming),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithTimestamp(ts),
		)
		t.runs[ev.RunID] = &runSpans{ctx: runCtx, run: span}

	case events.WorkflowNodeStart:
		rs, ok := t.runs[ev.RunID]
		if !ok {
			return nil
		}
		if rs.node != nil {
			rs.node.End(trace.WithTimestamp(ts))
		}
		_, rs.node = t.tracer.Start(rs.ctx, "eventflow.node.execute",
			trace.WithAttributes(
				attribute.String("eventflow.run_id", ev.RunID),
				attribute.String("eventflow.node", ev.Node),
				attribute.String("eventflow.event", stringData(ev, "event")),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithTimestamp(ts),
		)

	case events.WorkflowNodeEnd:
		rs, ok := t.runs[ev.RunID]
		if !ok || rs.node == nil {
			return nil
		}
		rs.node.SetAttributes(attribute.String("eventflow.next_event", stringData(ev, "event")))
		rs.node.SetStatus(codes.Ok, "")
		rs.node.End(trace.WithTimestamp(ts))
		rs.node = nil

	case events.WorkflowInterrupt:
		rs, ok := t.runs[ev.RunID]
		if !ok {
			return nil
		}
		attrs := []attribute.KeyValue{
			attribute.String("eventflow.node", ev.Node),
			attribute.String("eventflow.message", stringData(ev, "message")),
		}
		if rs.node != nil {
			rs.node.AddEvent("interrupt", trace.WithAttributes(attrs...), trace.WithTimestamp(ts))
		}
		rs.run.SetAttributes(attribute.Bool("eventflow.interrupted", true))
		rs.end(ts, codes.Ok, "")
		delete(t.runs, ev.RunID)

	case events.WorkflowEnd:
		rs, ok := t.runs[ev.RunID]
		if !ok {
			return nil
		}
		rs.end(ts, codes.Ok, "")
		delete(t.runs, ev.RunID)

	case events.Error:
		rs, ok := t.runs[ev.RunID]
		if !ok {
			return nil
		}
		msg := stringData(ev, "error")
		err := errors.New(msg)
		if rs.node != nil {
			rs.node.RecordError(err, trace.WithTimestamp(ts))
		}
		rs.run.RecordError(err, trace.WithTimestamp(ts))
		rs.end(ts, codes.Error, msg)
		delete(t.runs, ev.RunID)
	}
	return nil
}

// end closes the open node span, if any, then the run span.
func (rs *runSpans) end(ts time.Time, code codes.Code, msg string) {
	if rs.node != nil {
		rs.node.SetStatus(code, msg)
		rs.node.End(trace.WithTimestamp(ts))
		rs.node = nil
	}
	rs.run.SetStatus(code, msg)
	rs.run.End(trace.WithTimestamp(ts))
}

func timestamp(ev events.Event) time.Time {
	if ev.Time.IsZero() {
		return time.Now()
	}
	return ev.Time
}

func stringData(ev events.Event, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}
