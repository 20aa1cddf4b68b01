package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ragstack/rag-engine/pkg/observability"
)

// MultiLevelConfig holds configuration for the multi-level cache
type MultiLevelConfig struct {
	L1MaxEntries int           `mapstructure:"l1_max_entries"`
	L1TTL        time.Duration `mapstructure:"l1_ttl"`
}

// l1Entry carries the cached bytes with their own deadline. The LRU's
// store-wide TTL only bounds residency; entries written with a shorter
// TTL must stop serving at their own deadline.
type l1Entry struct {
	data     []byte
	deadline time.Time
}

func (e l1Entry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// MultiLevelStore layers an in-process LRU tier (L1) over a backing Store
// (L2, typically Redis). Recent entries keep serving from L1 when the
// transport is down, while TTL on both tiers bounds staleness.
type MultiLevelStore struct {
	l1     *expirable.LRU[string, l1Entry]
	l2     Store
	logger observability.Logger

	mu     sync.Mutex
	l1Hits map[string]*atomic.Int64
}

// NewMultiLevelStore creates a multi-level store over l2.
func NewMultiLevelStore(l2 Store, cfg MultiLevelConfig, logger observability.Logger) *MultiLevelStore {
	if cfg.L1MaxEntries <= 0 {
		cfg.L1MaxEntries = 1000
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.NewStandardLogger("cache.multilevel")
	}

	return &MultiLevelStore{
		l1:     expirable.NewLRU[string, l1Entry](cfg.L1MaxEntries, nil, cfg.L1TTL),
		l2:     l2,
		logger: logger,
		l1Hits: make(map[string]*atomic.Int64),
	}
}

func l1Key(domain, key string) string {
	return domain + ":" + key
}

func (s *MultiLevelStore) hitCounter(domain string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.l1Hits[domain]
	if !ok {
		c = &atomic.Int64{}
		s.l1Hits[domain] = c
	}
	return c
}

// Get checks L1 first and falls back to L2, promoting L2 hits into L1.
// Entries whose own deadline has passed are dropped rather than served.
func (s *MultiLevelStore) Get(ctx context.Context, domain, key string, value interface{}) (bool, error) {
	if entry, ok := s.l1.Get(l1Key(domain, key)); ok {
		if entry.expired(time.Now()) {
			s.l1.Remove(l1Key(domain, key))
		} else {
			if err := json.Unmarshal(entry.data, value); err != nil {
				return false, err
			}
			s.hitCounter(domain).Add(1)
			return true, nil
		}
	}

	found, err := s.l2.Get(ctx, domain, key, value)
	if err != nil || !found {
		return found, err
	}

	// A promoted entry carries no deadline of its own; the LRU's
	// store-wide TTL bounds its staleness.
	if data, err := json.Marshal(value); err == nil {
		s.l1.Add(l1Key(domain, key), l1Entry{data: data})
	}
	return true, nil
}

// Set writes to both tiers. A TTL below the LRU's store-wide TTL becomes
// the entry's own deadline, so a short-lived domain entry never outlives
// its configured TTL in L1.
func (s *MultiLevelStore) Set(ctx context.Context, domain, key string, value interface{}, ttl time.Duration) error {
	if data, err := json.Marshal(value); err == nil {
		entry := l1Entry{data: data}
		if ttl > 0 {
			entry.deadline = time.Now().Add(ttl)
		}
		s.l1.Add(l1Key(domain, key), entry)
	}
	return s.l2.Set(ctx, domain, key, value, ttl)
}

// Delete removes the key from both tiers.
func (s *MultiLevelStore) Delete(ctx context.Context, domain, key string) error {
	s.l1.Remove(l1Key(domain, key))
	return s.l2.Delete(ctx, domain, key)
}

// DeleteDomain purges the domain from both tiers. The L1 purge walks the
// resident keys; the count reported is the L2 count, which is the
// authoritative shared tier.
func (s *MultiLevelStore) DeleteDomain(ctx context.Context, domain string) (int, error) {
	prefix := domain + ":"
	for _, k := range s.l1.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.l1.Remove(k)
		}
	}
	return s.l2.DeleteDomain(ctx, domain)
}

// Health reports the backing transport's health. L1 is always available
// and intentionally not part of the report.
func (s *MultiLevelStore) Health(ctx context.Context) HealthStatus {
	return s.l2.Health(ctx)
}

// Stats merges L1 hit counts into the backing store's statistics.
func (s *MultiLevelStore) Stats(ctx context.Context) Stats {
	stats := s.l2.Stats(ctx)
	if stats.Domains == nil {
		stats.Domains = make(map[string]DomainStats)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for domain, c := range s.l1Hits {
		d := stats.Domains[domain]
		d.Hits += c.Load()
		stats.Domains[domain] = d
	}
	return stats
}

// Close closes the backing store.
func (s *MultiLevelStore) Close() error {
	s.l1.Purge()
	return s.l2.Close()
}
