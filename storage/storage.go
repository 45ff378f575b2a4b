package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/eventflow/types"
)

var (
	// ErrNotFound is returned by Load when no snapshot exists for a run.
	ErrNotFound = errors.New("snapshot not found")
	// ErrEmptyRunID is returned when a run id is missing.
	ErrEmptyRunID = errors.New("run id cannot be empty")
	// ErrNilSnapshot is returned when saving a nil snapshot.
	ErrNilSnapshot = errors.New("snapshot cannot be nil")
)

// Storage persists the snapshot of suspended runs, keyed by run id. At most
// one snapshot exists per run id.
type Storage interface {
	// Save stores snap under runID, overwriting any previous snapshot.
	Save(ctx context.Context, runID string, snap *types.Snapshot) error

	// Load returns the snapshot stored under runID, or ErrNotFound.
	Load(ctx context.Context, runID string) (*types.Snapshot, error)

	// Delete removes the snapshot stored under runID. Deleting a missing
	// snapshot is not an error.
	Delete(ctx context.Context, runID string) error
}

// Lister is implemented by stores that can enumerate suspended runs.
type Lister interface {
	RunIDs(ctx context.Context) ([]string, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func checkSave(runID string, snap *types.Snapshot) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	if snap == nil {
		return ErrNilSnapshot
	}
	return nil
}
