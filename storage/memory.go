package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/eventflow/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Snapshots are kept encoded so a loaded snapshot never aliases the state
// of the run that saved it.
type MemoryStorage struct {
	snapshots map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		snapshots: make(map[string][]byte),
	}
}

// Save stores a snapshot in memory.
func (s *MemoryStorage) Save(ctx context.Context, runID string, snap *types.Snapshot) error {
	return withContextError(ctx, func() error {
		if err := checkSave(runID, snap); err != nil {
			return err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot %s: %w", runID, err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.snapshots[runID] = data
		return nil
	})
}

// Load retrieves a snapshot from memory.
func (s *MemoryStorage) Load(ctx context.Context, runID string) (*types.Snapshot, error) {
	return withContext(ctx, func() (*types.Snapshot, error) {
		s.mu.RLock()
		data, ok := s.snapshots[runID]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: run=%s", ErrNotFound, runID)
		}
		var snap types.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", runID, err)
		}
		return &snap, nil
	})
}

// Delete removes a snapshot from memory.
func (s *MemoryStorage) Delete(ctx context.Context, runID string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.snapshots, runID)
		return nil
	})
}

// RunIDs lists the runs that currently have a snapshot, sorted.
func (s *MemoryStorage) RunIDs(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := make([]string, 0, len(s.snapshots))
		for id := range s.snapshots {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	})
}
