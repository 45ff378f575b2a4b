package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/eventflow/types"
)

const (
	defaultPrefix  = "eventflow"
	snapshotSuffix = ":snapshot:"
	scanBatchSize  = 100
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration

	// Prefix namespaces the snapshot keys. Defaults to "eventflow".
	Prefix string
	// TTL expires abandoned snapshots. Zero keeps them forever.
	TTL time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStorage{client: client, prefix: prefix, ttl: opts.TTL}, nil
}

func (s *RedisStorage) key(runID string) string {
	return s.prefix + snapshotSuffix + runID
}

// Save saves a snapshot to Redis, replacing any previous one.
func (s *RedisStorage) Save(ctx context.Context, runID string, snap *types.Snapshot) error {
	return withContextError(ctx, func() error {
		if err := checkSave(runID, snap); err != nil {
			return err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot %s: %w", runID, err)
		}
		key := s.key(runID)
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// Load retrieves and unmarshals a snapshot from Redis.
func (s *RedisStorage) Load(ctx context.Context, runID string) (*types.Snapshot, error) {
	return withContext(ctx, func() (*types.Snapshot, error) {
		key := s.key(runID)
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return nil, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var snap types.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return &snap, nil
	})
}

// Delete removes a snapshot from Redis. Missing keys are not an error.
func (s *RedisStorage) Delete(ctx context.Context, runID string) error {
	return withContextError(ctx, func() error {
		key := s.key(runID)
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
		}
		return nil
	})
}

// RunIDs scans Redis for stored snapshots and returns their run ids, sorted.
func (s *RedisStorage) RunIDs(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		base := s.prefix + snapshotSuffix
		var ids []string
		iter := s.client.Scan(ctx, 0, base+"*", scanBatchSize).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, strings.TrimPrefix(iter.Val(), base))
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot keys: %w", err)
		}
		sort.Strings(ids)
		return ids, nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
