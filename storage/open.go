package storage

import (
	"fmt"

	"github.com/songzhibin97/eventflow/config"
)

// Open builds the store selected by cfg.
func Open(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemoryStorage(), nil
	case config.DriverRedis:
		r := cfg.Redis
		return NewRedisStorage(RedisOptions{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			IdleTimeout:  r.IdleTimeout,
			Prefix:       r.Prefix,
			TTL:          r.TTL,
		})
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDriver, cfg.Driver)
	}
}
