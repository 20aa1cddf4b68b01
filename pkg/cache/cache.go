// Package cache implements the shared key-value substrate used by the
// retrieval engine. Keys are partitioned into domains; every domain has
// independent TTLs, counters, and bulk invalidation. Transport failures
// degrade to cache misses instead of surfacing to callers.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lower-level helpers when a key is absent.
var ErrNotFound = errors.New("cache: key not found")

// Store defines the operations of the cache substrate.
type Store interface {
	// Get retrieves a value into value and reports whether the key was
	// present. Transport failures are reported as a miss, never an error.
	Get(ctx context.Context, domain, key string, value interface{}) (bool, error)
	// Set stores a value with the given TTL. Best-effort: transport
	// failures are logged and swallowed.
	Set(ctx context.Context, domain, key string, value interface{}, ttl time.Duration) error
	// Delete removes a single key. Best-effort.
	Delete(ctx context.Context, domain, key string) error
	// DeleteDomain removes every key in the domain and returns the number
	// of keys removed.
	DeleteDomain(ctx context.Context, domain string) (int, error)
	// Health reports reachability and round-trip latency of the backing
	// transport.
	Health(ctx context.Context) HealthStatus
	// Stats returns per-domain counters and approximate memory usage.
	Stats(ctx context.Context) Stats
	// Close releases the underlying connection.
	Close() error
}

// HealthStatus describes the state of the cache transport.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// DomainStats holds counters for one cache domain.
type DomainStats struct {
	Keys   int64 `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns the hit ratio in percent.
func (d DomainStats) HitRate() float64 {
	total := d.Hits + d.Misses
	if total == 0 {
		return 0
	}
	return float64(d.Hits) / float64(total) * 100
}

// Stats aggregates counters across all domains.
type Stats struct {
	Domains     map[string]DomainStats `json:"domains"`
	MemoryBytes int64                  `json:"memory_bytes"`
	Reachable   bool                   `json:"reachable"`
}

// RedisConfig holds configuration for Redis connections
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}
