// Package embedding provides the embedding provider abstraction and the
// cached embedding path shared by the batch pipeline and the search
// engine.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited indicates the provider rejected the call due to rate
// limiting. Wrapped by ProviderError so callers can retry with backoff.
var ErrRateLimited = errors.New("embedding: provider rate limited")

// Provider represents an embedding provider (OpenAI, mock, etc.)
type Provider interface {
	// Name returns the provider name (e.g., "openai")
	Name() string

	// GenerateEmbedding generates an embedding for a single text
	GenerateEmbedding(ctx context.Context, req GenerateRequest) (*Response, error)

	// BatchGenerateEmbeddings generates embeddings for multiple texts,
	// bounded by MaxBatchSize
	BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateRequest) (*BatchResponse, error)

	// MaxBatchSize returns the provider-imposed batch size limit
	MaxBatchSize() int

	// HealthCheck verifies the provider is accessible
	HealthCheck(ctx context.Context) error

	// Close cleans up any resources
	Close() error
}

// GenerateRequest represents a request to generate an embedding
type GenerateRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// BatchGenerateRequest represents a batch embedding request
type BatchGenerateRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

// Response represents the response from generating an embedding
type Response struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	TokensUsed int       `json:"tokens_used"`
}

// BatchResponse represents the response from batch embedding generation
type BatchResponse struct {
	Embeddings  [][]float32 `json:"embeddings"`
	Model       string      `json:"model"`
	Dimensions  int         `json:"dimensions"`
	TotalTokens int         `json:"total_tokens"`
}

// ProviderError represents an error from a provider
type ProviderError struct {
	Provider    string         `json:"provider"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	StatusCode  int            `json:"status_code,omitempty"`
	RetryAfter  *time.Duration `json:"retry_after,omitempty"`
	IsRetryable bool           `json:"is_retryable"`
	wrapped     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.wrapped
}

// IsRetryableError reports whether err is a provider error worth
// retrying (rate limits, timeouts, server-side failures).
func IsRetryableError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable
	}
	return false
}
