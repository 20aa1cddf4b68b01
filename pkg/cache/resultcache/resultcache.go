// Package resultcache memoizes the expensive calls of the retrieval
// engine: embedding vectors, generated responses, tool results, and
// intent classifications. Each domain has its own TTL policy and can be
// invalidated without touching the others.
//
// Keys are derived from a canonical serialization of the fields that
// affect the output, so hits are correctness-preserving regardless of
// request arrival order or incidental formatting.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ragstack/rag-engine/pkg/cache"
)

// Cache domains.
const (
	DomainEmbedding   = "embedding"
	DomainLLMResponse = "llm_response"
	DomainToolResult  = "tool_result"
	DomainIntent      = "intent"
)

// Domains lists every cache domain in a stable order.
var Domains = []string{DomainEmbedding, DomainLLMResponse, DomainToolResult, DomainIntent}

// Config holds per-domain TTLs.
type Config struct {
	EmbeddingTTL   time.Duration `mapstructure:"embedding_ttl"`
	LLMResponseTTL time.Duration `mapstructure:"llm_response_ttl"`
	ToolResultTTL  time.Duration `mapstructure:"tool_result_ttl"`
	IntentTTL      time.Duration `mapstructure:"intent_ttl"`
}

// DefaultConfig returns the default TTL policy.
func DefaultConfig() Config {
	return Config{
		EmbeddingTTL:   time.Hour,
		LLMResponseTTL: time.Hour,
		ToolResultTTL:  30 * time.Minute,
		IntentTTL:      2 * time.Hour,
	}
}

// Message is one turn of a prompt used in LLM response keys.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IntentResult is a cached intent classification.
type IntentResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// ResultCache wraps a cache.Store with typed, per-domain accessors.
type ResultCache struct {
	store  cache.Store
	config Config
}

// New creates a result cache over the given store.
func New(store cache.Store, config Config) *ResultCache {
	def := DefaultConfig()
	if config.EmbeddingTTL <= 0 {
		config.EmbeddingTTL = def.EmbeddingTTL
	}
	if config.LLMResponseTTL <= 0 {
		config.LLMResponseTTL = def.LLMResponseTTL
	}
	if config.ToolResultTTL <= 0 {
		config.ToolResultTTL = def.ToolResultTTL
	}
	if config.IntentTTL <= 0 {
		config.IntentTTL = def.IntentTTL
	}
	return &ResultCache{store: store, config: config}
}

// EmbeddingKey derives the cache key for an embedding request. Leading
// and trailing whitespace never affects the vector, so it is trimmed;
// the text is otherwise hashed verbatim.
func EmbeddingKey(text, model string) string {
	return hashKey(strings.TrimSpace(text) + "\x00" + model)
}

// ResponseKey derives the cache key for a generated response from the
// prompt messages and every sampling parameter that affects the output.
func ResponseKey(messages []Message, model string, temperature float64, maxTokens int) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(":")
		b.WriteString(m.Content)
		b.WriteString("\x00")
	}
	fmt.Fprintf(&b, "%s:%g:%d", model, temperature, maxTokens)
	return hashKey(b.String())
}

// ToolKey derives the cache key for a tool invocation from the tool name
// and its arguments serialized with sorted keys.
func ToolKey(tool string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tool)
	for _, k := range keys {
		v, _ := json.Marshal(args[k])
		b.WriteString("\x00")
		b.WriteString(k)
		b.WriteString("=")
		b.Write(v)
	}
	return hashKey(b.String())
}

// IntentKey derives the cache key for an intent classification. The
// utterance is lowercased and whitespace-collapsed: classification is
// insensitive to casing and spacing, so the normalization is safe.
func IntentKey(utterance, classifierVersion string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(utterance)), " ")
	return hashKey(normalized + "\x00" + classifierVersion)
}

func hashKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// GetEmbedding looks up a cached vector for (text, model).
func (c *ResultCache) GetEmbedding(ctx context.Context, text, model string) ([]float32, bool) {
	var vec []float32
	found, err := c.store.Get(ctx, DomainEmbedding, EmbeddingKey(text, model), &vec)
	if err != nil || !found {
		return nil, false
	}
	return vec, true
}

// SetEmbedding caches a vector for (text, model).
func (c *ResultCache) SetEmbedding(ctx context.Context, text, model string, vector []float32) {
	_ = c.store.Set(ctx, DomainEmbedding, EmbeddingKey(text, model), vector, c.config.EmbeddingTTL)
}

// GetResponse looks up a cached generated response.
func (c *ResultCache) GetResponse(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (string, bool) {
	var resp string
	found, err := c.store.Get(ctx, DomainLLMResponse, ResponseKey(messages, model, temperature, maxTokens), &resp)
	if err != nil || !found {
		return "", false
	}
	return resp, true
}

// SetResponse caches a generated response.
func (c *ResultCache) SetResponse(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int, response string) {
	_ = c.store.Set(ctx, DomainLLMResponse, ResponseKey(messages, model, temperature, maxTokens), response, c.config.LLMResponseTTL)
}

// GetToolResult looks up a cached tool invocation result into value.
func (c *ResultCache) GetToolResult(ctx context.Context, tool string, args map[string]interface{}, value interface{}) bool {
	found, err := c.store.Get(ctx, DomainToolResult, ToolKey(tool, args), value)
	return err == nil && found
}

// SetToolResult caches a tool invocation result.
func (c *ResultCache) SetToolResult(ctx context.Context, tool string, args map[string]interface{}, value interface{}) {
	_ = c.store.Set(ctx, DomainToolResult, ToolKey(tool, args), value, c.config.ToolResultTTL)
}

// GetIntent looks up a cached intent classification.
func (c *ResultCache) GetIntent(ctx context.Context, utterance, classifierVersion string) (IntentResult, bool) {
	var res IntentResult
	found, err := c.store.Get(ctx, DomainIntent, IntentKey(utterance, classifierVersion), &res)
	if err != nil || !found {
		return IntentResult{}, false
	}
	return res, true
}

// SetIntent caches an intent classification.
func (c *ResultCache) SetIntent(ctx context.Context, utterance, classifierVersion string, result IntentResult) {
	_ = c.store.Set(ctx, DomainIntent, IntentKey(utterance, classifierVersion), result, c.config.IntentTTL)
}

// Invalidate clears one domain without touching the others.
func (c *ResultCache) Invalidate(ctx context.Context, domain string) (int, error) {
	if !validDomain(domain) {
		return 0, fmt.Errorf("resultcache: unknown domain %q", domain)
	}
	return c.store.DeleteDomain(ctx, domain)
}

// Store exposes the underlying store for health and stats queries.
func (c *ResultCache) Store() cache.Store {
	return c.store
}

// TTL returns the configured TTL for a domain.
func (c *ResultCache) TTL(domain string) time.Duration {
	switch domain {
	case DomainEmbedding:
		return c.config.EmbeddingTTL
	case DomainLLMResponse:
		return c.config.LLMResponseTTL
	case DomainToolResult:
		return c.config.ToolResultTTL
	case DomainIntent:
		return c.config.IntentTTL
	}
	return 0
}

func validDomain(domain string) bool {
	for _, d := range Domains {
		if d == domain {
			return true
		}
	}
	return false
}
