package async

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/songzhibin97/eventflow/types"
)

// Outcome is the result of one run in Settle.
type Outcome struct {
	State *types.WorkflowState
	Err   error
}

// RunAll drives independent runs concurrently, at most limit at a time
// (limit <= 0 means no limit). The first failure cancels the runs still in
// progress and is returned. An interrupt counts as a failure; use Settle to
// collect interrupts alongside completed runs.
//
// States are returned in the order of rs.
func RunAll(ctx context.Context, limit int, rs ...Resulter) ([]*types.WorkflowState, error) {
	states := make([]*types.WorkflowState, len(rs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, r := range rs {
		g.Go(func() error {
			state, err := r.Result(gctx)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			states[i] = state
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// Settle drives independent runs concurrently like RunAll but lets every
// run finish, reporting each outcome in the order of rs.
func Settle(ctx context.Context, limit int, rs ...Resulter) []Outcome {
	outcomes := make([]Outcome, len(rs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, r := range rs {
		g.Go(func() error {
			state, err := r.Result(ctx)
			outcomes[i] = Outcome{State: state, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
