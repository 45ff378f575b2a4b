// Package config loads engine settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config holds the settings used to assemble a workflow runtime
	Config struct {
		LogLevel  string        `yaml:"log_level"`
		MachineID int           `yaml:"machine_id"`
		Storage   StorageConfig `yaml:"storage"`
		Events    EventsConfig  `yaml:"events"`
	}

	// StorageConfig selects and configures the snapshot store
	StorageConfig struct {
		Driver string      `yaml:"driver"`
		Redis  RedisConfig `yaml:"redis"`
	}

	// RedisConfig configures the Redis snapshot store
	RedisConfig struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
		Prefix       string        `yaml:"prefix"`
		TTL          time.Duration `yaml:"ttl"`
	}

	// EventsConfig configures the notification bus
	EventsConfig struct {
		BufferSize int  `yaml:"buffer_size"`
		Sync       bool `yaml:"sync"`
	}
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	DefaultLogLevel        = "info"
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisPrefix     = "eventflow"
	DefaultRedisPoolSize   = 10
	DefaultRedisIdle       = 5 * time.Minute
	DefaultEventBufferSize = 100

	MaxMachineID  = math.MaxUint16 // gkit snowflake node field
	MaxBufferSize = 1_000_000
	MaxRedisDB    = 15

	envPrefix = "EVENTFLOW_"
)

var (
	ErrInvalidDriver     = errors.New("invalid storage driver")
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidMachineID  = errors.New("invalid machine id")
	ErrInvalidBufferSize = errors.New("event buffer size must be positive")
	ErrMissingRedisAddr  = errors.New("redis address is required")
	ErrInvalidRedisDB    = errors.New("invalid redis db")
	ErrNegativeTTL       = errors.New("redis ttl cannot be negative")
)

// NewDefaultConfig returns an in-memory configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:  DefaultLogLevel,
		MachineID: 1,
		Storage: StorageConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Addr:        DefaultRedisAddr,
				PoolSize:    DefaultRedisPoolSize,
				IdleTimeout: DefaultRedisIdle,
				Prefix:      DefaultRedisPrefix,
			},
		},
		Events: EventsConfig{BufferSize: DefaultEventBufferSize},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides values from EVENTFLOW_* environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(envPrefix + "REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PREFIX"); v != "" {
		c.Storage.Redis.Prefix = v
	}
	if err := loadEnvInt("MACHINE_ID", &c.MachineID); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.Storage.Redis.DB); err != nil {
		return err
	}
	if err := loadEnvInt("EVENT_BUFFER_SIZE", &c.Events.BufferSize); err != nil {
		return err
	}
	if v := os.Getenv(envPrefix + "EVENTS_SYNC"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sEVENTS_SYNC: %q", envPrefix, v)
		}
		c.Events.Sync = on
	}
	if v := os.Getenv(envPrefix + "REDIS_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sREDIS_TTL: %q", envPrefix, v)
		}
		c.Storage.Redis.TTL = ttl
	}
	return nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.MachineID < 0 || c.MachineID > MaxMachineID {
		return fmt.Errorf("%w: %d", ErrInvalidMachineID, c.MachineID)
	}
	if c.Events.BufferSize <= 0 || c.Events.BufferSize > MaxBufferSize {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, c.Events.BufferSize)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		r := c.Storage.Redis
		if r.Addr == "" {
			return ErrMissingRedisAddr
		}
		if r.DB < 0 || r.DB > MaxRedisDB {
			return fmt.Errorf("%w: %d", ErrInvalidRedisDB, r.DB)
		}
		if r.TTL < 0 {
			return ErrNegativeTTL
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Storage.Driver)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
}

func loadEnvInt(key string, dst *int) error {
	s := os.Getenv(envPrefix + key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %q", envPrefix, key, s)
	}
	*dst = v
	return nil
}
