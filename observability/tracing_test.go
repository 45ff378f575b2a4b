package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/songzhibin97/eventflow/events"
	"github.com/songzhibin97/eventflow/types"
	"github.com/songzhibin97/eventflow/workflow"
)

func setupTestTracer() (*tracetest.SpanRecorder, *Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, NewTracerWithTracer(tp.Tracer("test"))
}

func notify(t *testing.T, h events.EventHandler, evs ...events.Event) {
	t.Helper()
	base := time.Now()
	for i, ev := range evs {
		ev.Time = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, h.Handle(context.Background(), ev))
	}
}

func attrMap(kvs []attribute.KeyValue) map[string]interface{} {
	out := make(map[string]interface{}, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestTracer_CompletedRun(t *testing.T) {
	sr, tracer := setupTestTracer()
	notify(t, tracer,
		events.Event{Type: events.WorkflowStart, RunID: "r1", Data: map[string]interface{}{"resuming": false}},
		events.Event{Type: events.WorkflowNodeStart, RunID: "r1", Node: "a", Data: map[string]interface{}{"event": "start"}},
		events.Event{Type: events.WorkflowNodeEnd, RunID: "r1", Node: "a", Data: map[string]interface{}{"event": "foo"}},
		events.Event{Type: events.WorkflowNodeStart, RunID: "r1", Node: "b", Data: map[string]interface{}{"event": "foo"}},
		events.Event{Type: events.WorkflowNodeEnd, RunID: "r1", Node: "b", Data: map[string]interface{}{"event": "stop"}},
		events.Event{Type: events.WorkflowEnd, RunID: "r1"},
	)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "eventflow.node.execute", spans[0].Name())
	assert.Equal(t, "eventflow.node.execute", spans[1].Name())
	assert.Equal(t, "eventflow.workflow.run", spans[2].Name())

	run := spans[2]
	assert.Equal(t, codes.Ok, run.Status().Code)
	for _, node := range spans[:2] {
		assert.Equal(t, run.SpanContext().SpanID(), node.Parent().SpanID())
		assert.Equal(t, run.SpanContext().TraceID(), node.SpanContext().TraceID())
	}

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "r1", attrs["eventflow.run_id"])
	assert.Equal(t, "a", attrs["eventflow.node"])
	assert.Equal(t, "start", attrs["eventflow.event"])
	assert.Equal(t, "foo", attrs["eventflow.next_event"])
	assert.Equal(t, time.Millisecond, spans[0].EndTime().Sub(spans[0].StartTime()))
}

func TestTracer_Interrupt(t *testing.T) {
	sr, tracer := setupTestTracer()
	notify(t, tracer,
		events.Event{Type: events.WorkflowStart, RunID: "r1"},
		events.Event{Type: events.WorkflowNodeStart, RunID: "r1", Node: "approve"},
		events.Event{Type: events.WorkflowInterrupt, RunID: "r1", Node: "approve", Data: map[string]interface{}{"message": "approve?"}},
	)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	node, run := spans[0], spans[1]
	require.Len(t, node.Events(), 1)
	assert.Equal(t, "interrupt", node.Events()[0].Name)
	assert.Equal(t, "approve?", attrMap(node.Events()[0].Attributes)["eventflow.message"])
	assert.Equal(t, true, attrMap(run.Attributes())["eventflow.interrupted"])
	assert.Equal(t, codes.Ok, run.Status().Code)
}

func TestTracer_Error(t *testing.T) {
	sr, tracer := setupTestTracer()
	notify(t, tracer,
		events.Event{Type: events.WorkflowStart, RunID: "r1"},
		events.Event{Type: events.WorkflowNodeStart, RunID: "r1", Node: "fails"},
		events.Event{Type: events.Error, RunID: "r1", Node: "fails", Data: map[string]interface{}{"error": "boom"}},
	)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "boom", span.Status().Description)
		require.Len(t, span.Events(), 1)
		assert.Equal(t, "exception", span.Events()[0].Name)
	}
}

func TestTracer_IgnoresUnknownRuns(t *testing.T) {
	sr, tracer := setupTestTracer()
	notify(t, tracer,
		events.Event{Type: events.WorkflowNodeStart, RunID: "ghost", Node: "a"},
		events.Event{Type: events.WorkflowNodeEnd, RunID: "ghost", Node: "a"},
		events.Event{Type: events.WorkflowEnd, RunID: "ghost"},
		events.Event{Type: events.Error, RunID: "ghost"},
	)
	assert.Empty(t, sr.Ended())
}

func TestTracer_Workflow(t *testing.T) {
	sr, tracer := setupTestTracer()
	bus := events.NewEventBus()
	defer bus.Stop()
	tracer.Register(bus)

	node := workflow.NewFuncNode("only", func(ctx context.Context, wctx *workflow.Context, ev types.Event, state *types.WorkflowState) (types.Event, error) {
		return types.StopEvent{Result: "ok"}, nil
	}, types.KindStop)
	wf, err := workflow.New(workflow.WithEventBus(bus), workflow.WithRoutes(workflow.On(types.StartEvent{}, node)))
	require.NoError(t, err)

	_, err = wf.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sr.Ended()) == 2 }, 2*time.Second, 10*time.Millisecond)
	spans := sr.Ended()
	assert.Equal(t, wf.RunID(), attrMap(spans[1].Attributes())["eventflow.run_id"])
	assert.Equal(t, "only", attrMap(spans[0].Attributes())["eventflow.node"])
}

func TestTracer_SyncNotificationsJoinCallerTrace(t *testing.T) {
	sr, tracer := setupTestTracer()
	bus := events.NewEventBus()
	defer bus.Stop()
	tracer.Register(bus)
	defer tracer.Unregister(bus)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	ctx, parent := tp.Tracer("caller").Start(context.Background(), "request")

	node := workflow.NewFuncNode("only", func(ctx context.Context, wctx *workflow.Context, ev types.Event, state *types.WorkflowState) (types.Event, error) {
		return types.StopEvent{Result: "ok"}, nil
	}, types.KindStop)
	wf, err := workflow.New(workflow.WithEventBus(bus), workflow.WithSyncNotifications(),
		workflow.WithRoutes(workflow.On(types.StartEvent{}, node)))
	require.NoError(t, err)

	_, err = wf.Run(ctx, nil)
	require.NoError(t, err)
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "eventflow.workflow.run", spans[1].Name())
	assert.Equal(t, parent.SpanContext().SpanID(), spans[1].Parent().SpanID())
	assert.Equal(t, parent.SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}
