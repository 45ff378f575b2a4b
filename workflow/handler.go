package workflow

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/songzhibin97/eventflow/types"
)

// Handler drives a single run of a Workflow and exposes it either as an
// event stream or as a blocking result. Whichever accessor is used first
// executes the run; every later call observes the cached outcome.
type Handler struct {
	wf       *Workflow
	state    *types.WorkflowState
	feedback interface{}
	resume   bool

	started atomic.Bool
	done    chan struct{}
	result  *types.WorkflowState
	err     error
}

// Start returns a handler that runs the workflow from the start event once
// it is consumed.
func (w *Workflow) Start(state *types.WorkflowState) *Handler {
	return &Handler{wf: w, state: state, done: make(chan struct{})}
}

// StartResume returns a handler that resumes the suspended run with
// feedback once it is consumed.
func (w *Workflow) StartResume(feedback interface{}) *Handler {
	return &Handler{wf: w, feedback: feedback, resume: true, done: make(chan struct{})}
}

// Executed reports whether the run has been started.
func (h *Handler) Executed() bool {
	return h.started.Load()
}

// Done is closed once the run has finished.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Events returns a single-pass stream over the run. It yields the progress
// events emitted by nodes and every event returned by a node, ending with
// the Stop event. A failed or interrupted run ends the stream with
// (nil, err).
//
// Breaking out of the loop cancels the run before its next node; the
// handler then reports ErrStreamAborted unless the run already completed.
// Once the run has been executed, the stream only repeats its error.
func (h *Handler) Events(ctx context.Context) iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		if !h.started.CompareAndSwap(false, true) {
			if _, err := h.wait(ctx); err != nil {
				yield(nil, err)
			}
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		sink := func(ev types.Event) {
			if stopped {
				return
			}
			if !yield(ev, nil) {
				stopped = true
				cancel()
			}
		}

		h.drive(runCtx, sink, func() bool { return stopped })
		if !stopped && h.err != nil {
			yield(nil, h.err)
		}
	}
}

// Result returns the final state, executing the run first if no accessor
// has done so yet.
func (h *Handler) Result(ctx context.Context) (*types.WorkflowState, error) {
	if h.started.CompareAndSwap(false, true) {
		h.drive(ctx, nil, nil)
	}
	return h.wait(ctx)
}

// drive executes the run and publishes its outcome. A panic escaping a
// node or the stream consumer still completes the handler, so waiters are
// released, before it propagates.
func (h *Handler) drive(ctx context.Context, sink func(types.Event), aborted func() bool) {
	var (
		state    *types.WorkflowState
		err      error
		finished bool
	)
	defer func() {
		if !finished {
			state, err = nil, fmt.Errorf("%w: run %s did not complete", ErrStreamAborted, h.wf.RunID())
		}
		h.result, h.err = state, err
		close(h.done)
	}()

	if h.resume {
		state, err = h.wf.resume(ctx, h.feedback, sink)
	} else {
		state, err = h.wf.run(ctx, h.state, sink)
	}
	if err != nil && aborted != nil && aborted() {
		state, err = nil, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}
	finished = true
}

// wait prefers a finished run over a canceled ctx.
func (h *Handler) wait(ctx context.Context) (*types.WorkflowState, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
	}
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
