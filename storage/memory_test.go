package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	testStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})

	t.Run("LoadDoesNotAlias", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		snap := newSnapshot(t, "run-1")
		require.NoError(t, store.Save(ctx, "run-1", snap))
		snap.State.Set("ticket", "changed")

		got, err := store.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "T-1", got.State.Get("ticket", nil))

		got.State.Set("amount", 99)
		again, err := store.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.EqualValues(t, 20, again.State.Get("amount", nil))
	})
}
