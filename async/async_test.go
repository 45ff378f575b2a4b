package async

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/eventflow/types"
	"github.com/songzhibin97/eventflow/workflow"
)

type resulterFunc func(ctx context.Context) (*types.WorkflowState, error)

func (f resulterFunc) Result(ctx context.Context) (*types.WorkflowState, error) {
	return f(ctx)
}

// newCounterWorkflow builds a single node workflow that counts its
// executions in the state and reports how many runs overlap.
func newCounterWorkflow(t *testing.T, active, peak *int32) *workflow.Workflow {
	t.Helper()
	node := workflow.NewFuncNode("count", func(ctx context.Context, wctx *workflow.Context, ev types.Event, state *types.WorkflowState) (types.Event, error) {
		if active != nil {
			n := atomic.AddInt32(active, 1)
			defer atomic.AddInt32(active, -1)
			for {
				p := atomic.LoadInt32(peak)
				if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		c, _ := types.Value[int](state, "count")
		state.Set("count", c+1)
		return types.StopEvent{Result: wctx.RunID}, nil
	}, types.KindStop)

	wf, err := workflow.New(workflow.WithRoutes(workflow.On(types.StartEvent{}, node)))
	require.NoError(t, err)
	return wf
}

func TestGo(t *testing.T) {
	t.Run("Await", func(t *testing.T) {
		wf := newCounterWorkflow(t, nil, nil)
		h := wf.Start(nil)
		f := Go(context.Background(), h)

		state, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, wf.RunID(), state.Result())
		assert.Equal(t, 1, state.Get("count", 0))

		again, err := h.Result(context.Background())
		require.NoError(t, err)
		assert.Same(t, state, again)
	})

	t.Run("AwaitTimeout", func(t *testing.T) {
		release := make(chan struct{})
		f := Go(context.Background(), resulterFunc(func(ctx context.Context) (*types.WorkflowState, error) {
			<-release
			return types.NewWorkflowState(map[string]interface{}{"ok": true}), nil
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := f.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		<-f.Done()
		state, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.True(t, state.Get("ok", false).(bool))
	})

	t.Run("CanceledRun", func(t *testing.T) {
		wf := newCounterWorkflow(t, nil, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Go(ctx, wf.Start(nil)).Await(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Interrupt", func(t *testing.T) {
		node := workflow.NewFuncNode("approve", func(ctx context.Context, wctx *workflow.Context, ev types.Event, state *types.WorkflowState) (types.Event, error) {
			fb, err := wctx.Interrupt(&types.InterruptRequest{Message: "approve?"})
			if err != nil {
				return nil, err
			}
			return types.StopEvent{Result: fb}, nil
		}, types.KindStop)
		wf, err := workflow.New(workflow.WithRoutes(workflow.On(types.StartEvent{}, node)))
		require.NoError(t, err)

		_, err = Go(context.Background(), wf.Start(nil)).Await(context.Background())
		_, ok := workflow.AsInterrupt(err)
		require.True(t, ok)

		state, err := Go(context.Background(), wf.StartResume("yes")).Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "yes", state.Result())
	})
}

func TestRunAll(t *testing.T) {
	t.Run("IndependentRuns", func(t *testing.T) {
		var active, peak int32
		var handlers []Resulter
		var wfs []*workflow.Workflow
		for i := 0; i < 12; i++ {
			wf := newCounterWorkflow(t, &active, &peak)
			wfs = append(wfs, wf)
			handlers = append(handlers, wf.Start(nil))
		}

		states, err := RunAll(context.Background(), 3, handlers...)
		require.NoError(t, err)
		require.Len(t, states, len(handlers))
		for i, state := range states {
			assert.Equal(t, 1, state.Get("count", 0))
			assert.Equal(t, wfs[i].RunID(), state.Result())
			for j := 0; j < i; j++ {
				assert.NotSame(t, states[j], state)
			}
		}
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	})

	t.Run("FirstErrorCancels", func(t *testing.T) {
		boom := errors.New("boom")
		var canceled int32
		blocked := resulterFunc(func(ctx context.Context) (*types.WorkflowState, error) {
			<-ctx.Done()
			atomic.AddInt32(&canceled, 1)
			return nil, ctx.Err()
		})
		failing := resulterFunc(func(ctx context.Context) (*types.WorkflowState, error) {
			return nil, boom
		})

		states, err := RunAll(context.Background(), 0, blocked, failing, blocked)
		assert.Nil(t, states)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "run 1")
		assert.Equal(t, int32(2), atomic.LoadInt32(&canceled))
	})

	t.Run("Empty", func(t *testing.T) {
		states, err := RunAll(context.Background(), 2)
		require.NoError(t, err)
		assert.Empty(t, states)
	})
}

func TestSettle(t *testing.T) {
	boom := errors.New("boom")
	rs := []Resulter{
		newCounterWorkflow(t, nil, nil).Start(nil),
		resulterFunc(func(ctx context.Context) (*types.WorkflowState, error) {
			return nil, boom
		}),
		newCounterWorkflow(t, nil, nil).Start(nil),
	}

	outcomes := Settle(context.Background(), 2, rs...)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		if i == 1 {
			assert.ErrorIs(t, o.Err, boom)
			assert.Nil(t, o.State)
			continue
		}
		require.NoError(t, o.Err, fmt.Sprintf("run %d", i))
		assert.Equal(t, 1, o.State.Get("count", 0))
	}
}
