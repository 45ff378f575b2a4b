package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/eventflow/config"
)

func newRedisStorage(t *testing.T, mr *miniredis.Miniredis, ttl time.Duration) *RedisStorage {
	t.Helper()
	store, err := NewRedisStorage(RedisOptions{
		Addr:         mr.Addr(),
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
		Prefix:       "test",
		TTL:          ttl,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStorage(t *testing.T) {
	testStorageContract(t, func(t *testing.T) Storage {
		return newRedisStorage(t, miniredis.RunT(t), 0)
	})

	t.Run("KeyLayout", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store := newRedisStorage(t, mr, 0)
		require.NoError(t, store.Save(context.Background(), "run-1", newSnapshot(t, "run-1")))
		assert.True(t, mr.Exists("test:snapshot:run-1"))
	})

	t.Run("TTL", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store := newRedisStorage(t, mr, time.Hour)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "run-1", newSnapshot(t, "run-1")))
		assert.Equal(t, time.Hour, mr.TTL("test:snapshot:run-1"))

		mr.FastForward(2 * time.Hour)
		_, err := store.Load(ctx, "run-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CorruptSnapshot", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store := newRedisStorage(t, mr, 0)
		require.NoError(t, mr.Set("test:snapshot:run-1", "{not json"))

		_, err := store.Load(context.Background(), "run-1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConnectionFailure", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewRedisStorage(RedisOptions{Addr: addr})
		assert.Error(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := NewRedisStorage(RedisOptions{Addr: mr.Addr()})
		require.NoError(t, err)
		require.NoError(t, store.Close())

		err = store.Save(context.Background(), "run-1", newSnapshot(t, "run-1"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestOpen(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		store, err := Open(config.StorageConfig{Driver: config.DriverMemory})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStorage{}, store)
	})

	t.Run("Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := Open(config.StorageConfig{
			Driver: config.DriverRedis,
			Redis:  config.RedisConfig{Addr: mr.Addr(), Prefix: "cfg"},
		})
		require.NoError(t, err)
		defer store.(*RedisStorage).Close()

		require.NoError(t, store.Save(context.Background(), "run-1", newSnapshot(t, "run-1")))
		assert.True(t, mr.Exists("cfg:snapshot:run-1"))
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := Open(config.StorageConfig{Driver: "etcd"})
		assert.ErrorIs(t, err, config.ErrInvalidDriver)
	})
}
