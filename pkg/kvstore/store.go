// Package kvstore provides the per-browser key-value store used by the
// sign-in screen.
//
// In the browser this would be local storage; here each browser is a device
// and its keys live in a shared backend under a device prefix:
//
//	backend, err := kvstore.Open(ctx, cfg)
//	store := kvstore.Namespace(backend, "device:"+deviceID+":")
//	store.Set(ctx, "user_42_username", "alice")
//
// Backends: in-memory, Redis and SQL (PostgreSQL or SQLite).
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyKey is returned for operations on an empty key
var ErrEmptyKey = errors.New("key must not be empty")

// Store is a flat string key-value store. Only individual keys are read,
// written or removed; stores are never enumerated.
type Store interface {
	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes the value, replacing any existing one
	Set(ctx context.Context, key, value string) error

	// Remove deletes the key; removing a missing key is not an error
	Remove(ctx context.Context, key string) error
}

// Backend is a Store owning a connection
type Backend interface {
	Store

	// Name identifies the backend in metrics and health checks
	Name() string

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases the connection
	Close() error
}

// Backend types
const (
	TypeMemory   = "memory"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// Config selects and configures a backend
type Config struct {
	Type string `yaml:"type"` // memory, redis, postgres, sqlite

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// SQL config
	PostgresURL      string `yaml:"postgres_url"`
	PostgresMaxConns int    `yaml:"postgres_max_conns"`
	SQLitePath       string `yaml:"sqlite_path"`

	// KeyTTL expires a key this long after it was last written; reads do
	// not extend it. Zero keeps keys forever. Only the Redis backend
	// honours it.
	KeyTTL time.Duration `yaml:"key_ttl"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		RedisURL:         "redis://localhost:6379/0",
		RedisDB:          -1,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		PostgresMaxConns: 10,
		SQLitePath:       "autohub.db",
	}
}

// Open creates the backend selected by cfg.Type
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeRedis:
		return NewRedisStore(ctx, cfg)
	case TypePostgres:
		return OpenPostgres(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	case TypeSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported key-value store type: %s", cfg.Type)
	}
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
