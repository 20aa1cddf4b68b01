// Package config loads engine configuration from defaults, an optional
// YAML file, and RAGENGINE_ environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ragstack/rag-engine/pkg/cache"
	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/database"
	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/pipeline"
	"github.com/ragstack/rag-engine/pkg/search"
)

// Config is the full engine configuration.
type Config struct {
	Database database.Config          `mapstructure:"database"`
	Redis    cache.RedisConfig        `mapstructure:"redis"`
	L1       cache.MultiLevelConfig   `mapstructure:"l1"`
	TTL      resultcache.Config       `mapstructure:"ttl"`
	Provider ProviderConfig           `mapstructure:"provider"`
	Embedder embedding.EmbedderConfig `mapstructure:"embedder"`
	Pipeline pipeline.Config          `mapstructure:"pipeline"`
	Search   search.Config            `mapstructure:"search"`
}

// ProviderConfig selects and configures the embedding provider.
type ProviderConfig struct {
	// Type is "openai" or "mock".
	Type   string                 `mapstructure:"type"`
	OpenAI embedding.OpenAIConfig `mapstructure:"openai"`
}

// Load reads configuration. A config file is read when
// RAGENGINE_CONFIG_FILE points at one; environment variables use the
// RAGENGINE_ prefix with dots replaced by underscores, for example
// RAGENGINE_DATABASE_DSN.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RAGENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("RAGENGINE_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "postgres://localhost:5432/rag?sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("l1.l1_max_entries", 1000)
	v.SetDefault("l1.l1_ttl", 5*time.Minute)

	v.SetDefault("ttl.embedding_ttl", time.Hour)
	v.SetDefault("ttl.llm_response_ttl", time.Hour)
	v.SetDefault("ttl.tool_result_ttl", 30*time.Minute)
	v.SetDefault("ttl.intent_ttl", 2*time.Hour)

	v.SetDefault("provider.type", "openai")
	v.SetDefault("provider.openai.endpoint", "")
	v.SetDefault("provider.openai.request_timeout", 30*time.Second)

	v.SetDefault("embedder.model", "text-embedding-3-small")
	v.SetDefault("embedder.max_retries", 2)
	v.SetDefault("embedder.initial_backoff", 500*time.Millisecond)
	v.SetDefault("embedder.max_backoff", 5*time.Second)
	v.SetDefault("embedder.requests_per_second", 10)
	v.SetDefault("embedder.burst", 5)
	v.SetDefault("embedder.breaker_threshold", 5)
	v.SetDefault("embedder.breaker_timeout", 30*time.Second)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.poll_timeout", 2*time.Second)

	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.default_threshold", 0.7)
	v.SetDefault("search.cache_results", true)
}
