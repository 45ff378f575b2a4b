// Package async runs workflow handlers on goroutines. The adapters only
// call the handler they wrap and share no state with each other or with the
// engine.
package async

import (
	"context"

	"github.com/songzhibin97/eventflow/types"
)

// Resulter blocks until a run finishes. *workflow.Handler implements it.
type Resulter interface {
	Result(ctx context.Context) (*types.WorkflowState, error)
}

// Future is the pending outcome of a run started by Go.
type Future struct {
	done  chan struct{}
	state *types.WorkflowState
	err   error
}

// Go drives r on a new goroutine. Canceling ctx cancels the run before its
// next node.
func Go(ctx context.Context, r Resulter) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.state, f.err = r.Result(ctx)
	}()
	return f
}

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await waits for the outcome. If ctx ends first, Await returns ctx.Err()
// and the run keeps going; the future can be awaited again.
func (f *Future) Await(ctx context.Context) (*types.WorkflowState, error) {
	select {
	case <-f.done:
		return f.state, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
