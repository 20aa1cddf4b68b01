package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ragstack/rag-engine/pkg/observability"
)

const defaultKeyPrefix = "rag"

// domainCounters tracks in-process hit/miss counts for one domain.
type domainCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// RedisStore implements Store using Redis. The store is usable even when
// the server is unreachable: reads degrade to misses and writes are
// dropped with a logged warning.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	logger  observability.Logger
	metrics observability.MetricsClient

	mu       sync.Mutex
	counters map[string]*domainCounters
}

// NewRedisStore creates a Redis-backed store. Connectivity is probed once
// at construction; an unreachable server is logged but not fatal, so the
// engine starts in bypass mode and recovers when Redis comes back.
func NewRedisStore(cfg RedisConfig, logger observability.Logger, metrics observability.MetricsClient) *RedisStore {
	if logger == nil {
		logger = observability.NewStandardLogger("cache")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, cache degraded to bypass mode", map[string]interface{}{
			"address": cfg.Address,
			"error":   err.Error(),
		})
	}

	return &RedisStore{
		client:   client,
		prefix:   cfg.KeyPrefix,
		logger:   logger,
		metrics:  metrics,
		counters: make(map[string]*domainCounters),
	}
}

// Client exposes the underlying Redis client for subsystems that share
// the connection pool, such as the batch job store.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) fullKey(domain, key string) string {
	return s.prefix + ":" + domain + ":" + key
}

func (s *RedisStore) domainPattern(domain string) string {
	return s.prefix + ":" + domain + ":*"
}

func (s *RedisStore) domain(name string) *domainCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = &domainCounters{}
		s.counters[name] = c
	}
	return c
}

// Get retrieves a value from cache. Absent keys and transport failures
// both report a miss; only decode failures return an error.
func (s *RedisStore) Get(ctx context.Context, domain, key string, value interface{}) (bool, error) {
	start := time.Now()
	data, err := s.client.Get(ctx, s.fullKey(domain, key)).Bytes()
	if err != nil {
		s.domain(domain).misses.Add(1)
		s.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
		if err != redis.Nil {
			s.logger.Warn("cache get failed, treating as miss", map[string]interface{}{
				"domain": domain,
				"error":  err.Error(),
			})
		}
		return false, nil
	}

	if err := json.Unmarshal(data, value); err != nil {
		s.domain(domain).misses.Add(1)
		return false, err
	}

	s.domain(domain).hits.Add(1)
	s.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
	return true, nil
}

// Set stores a value in cache with TTL. Transport failures are logged
// and swallowed; the entry is simply not cached.
func (s *RedisStore) Set(ctx context.Context, domain, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.fullKey(domain, key), data, ttl).Err(); err != nil {
		s.metrics.RecordCacheOperation("set", false, time.Since(start).Seconds())
		s.logger.Warn("cache set failed", map[string]interface{}{
			"domain": domain,
			"error":  err.Error(),
		})
		return nil
	}

	s.metrics.RecordCacheOperation("set", true, time.Since(start).Seconds())
	return nil
}

// Delete removes a single key. Best-effort.
func (s *RedisStore) Delete(ctx context.Context, domain, key string) error {
	if err := s.client.Del(ctx, s.fullKey(domain, key)).Err(); err != nil {
		s.logger.Warn("cache delete failed", map[string]interface{}{
			"domain": domain,
			"error":  err.Error(),
		})
	}
	return nil
}

// DeleteDomain removes every key in the domain using SCAN so large
// domains do not block the server.
func (s *RedisStore) DeleteDomain(ctx context.Context, domain string) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, s.domainPattern(domain), 100).Iterator()

	batch := make([]string, 0, 100)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			s.logger.Warn("cache bulk delete failed", map[string]interface{}{
				"domain": domain,
				"error":  err.Error(),
			})
		}
		deleted += int(n)
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		s.logger.Warn("cache domain scan failed", map[string]interface{}{
			"domain": domain,
			"error":  err.Error(),
		})
	}

	s.logger.Info("cache domain invalidated", map[string]interface{}{
		"domain": domain,
		"keys":   deleted,
	})
	return deleted, nil
}

// Health pings the server and reports round-trip latency.
func (s *RedisStore) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		return HealthStatus{Reachable: false, Latency: latency, Error: err.Error()}
	}
	return HealthStatus{Reachable: true, Latency: latency}
}

// Stats returns per-domain key counts and hit/miss counters plus the
// server's used_memory. Key counts are best-effort: an unreachable
// server yields counter-only stats with Reachable=false.
func (s *RedisStore) Stats(ctx context.Context) Stats {
	stats := Stats{Domains: make(map[string]DomainStats)}

	s.mu.Lock()
	for name, c := range s.counters {
		stats.Domains[name] = DomainStats{
			Hits:   c.hits.Load(),
			Misses: c.misses.Load(),
		}
	}
	s.mu.Unlock()

	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		parts := strings.SplitN(iter.Val(), ":", 3)
		if len(parts) < 3 {
			continue
		}
		d := stats.Domains[parts[1]]
		d.Keys++
		stats.Domains[parts[1]] = d
	}
	if err := iter.Err(); err != nil {
		return stats
	}
	stats.Reachable = true
	stats.MemoryBytes = s.usedMemory(ctx)
	return stats
}

func (s *RedisStore) usedMemory(ctx context.Context) int64 {
	info, err := s.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(info, "\n") {
		if strings.HasPrefix(line, "used_memory:") {
			v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "used_memory:")), 10, 64)
			if err == nil {
				return v
			}
		}
	}
	return 0
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
