package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultOpenAIModel    = "text-embedding-3-small"
	defaultRequestTimeout = 30 * time.Second

	// OpenAI accepts larger batches, but small batches bound per-request
	// latency and keep partial-failure blast radius down.
	maxOpenAIBatchSize = 16
)

// openAIModelDimensions maps supported models to their native dimensions.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig contains configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// OpenAIProvider implements Provider against the OpenAI embeddings API.
type OpenAIProvider struct {
	config     OpenAIConfig
	httpClient *http.Client
}

type openAIRequest struct {
	Input interface{} `json:"input"` // string or []string
	Model string      `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = defaultOpenAIEndpoint
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	return &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// Name implements Provider.Name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// MaxBatchSize implements Provider.MaxBatchSize
func (p *OpenAIProvider) MaxBatchSize() int {
	return maxOpenAIBatchSize
}

// GenerateEmbedding generates an embedding for a single text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, req GenerateRequest) (*Response, error) {
	if req.Text == "" {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     "empty_input",
			Message:  "text cannot be empty",
		}
	}

	batch, err := p.BatchGenerateEmbeddings(ctx, BatchGenerateRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	if len(batch.Embeddings) == 0 {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     "empty_response",
			Message:  "no embeddings returned",
		}
	}

	return &Response{
		Embedding:  batch.Embeddings[0],
		Model:      batch.Model,
		Dimensions: batch.Dimensions,
		TokensUsed: batch.TotalTokens,
	}, nil
}

// BatchGenerateEmbeddings generates embeddings for multiple texts
func (p *OpenAIProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateRequest) (*BatchResponse, error) {
	if len(req.Texts) == 0 {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     "empty_input",
			Message:  "texts cannot be empty",
		}
	}
	if len(req.Texts) > maxOpenAIBatchSize {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     "batch_too_large",
			Message:  fmt.Sprintf("batch size %d exceeds limit %d", len(req.Texts), maxOpenAIBatchSize),
		}
	}

	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	body, err := json.Marshal(openAIRequest{Input: req.Texts, Model: model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{
			Provider:    p.Name(),
			Code:        "request_failed",
			Message:     err.Error(),
			IsRetryable: true,
			wrapped:     err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{
			Provider:    p.Name(),
			Code:        "read_failed",
			Message:     err.Error(),
			IsRetryable: true,
			wrapped:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp, respBody)
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Data) != len(req.Texts) {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     "incomplete_response",
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(req.Texts), len(apiResp.Data)),
		}
	}

	// The API documents index-ordered data; place by index regardless.
	embeddings := make([][]float32, len(req.Texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, &ProviderError{
				Provider: p.Name(),
				Code:     "bad_index",
				Message:  fmt.Sprintf("embedding index %d out of range", d.Index),
			}
		}
		embeddings[d.Index] = d.Embedding
	}

	dims := 0
	if len(embeddings) > 0 {
		dims = len(embeddings[0])
	}

	return &BatchResponse{
		Embeddings:  embeddings,
		Model:       apiResp.Model,
		Dimensions:  dims,
		TotalTokens: apiResp.Usage.TotalTokens,
	}, nil
}

func (p *OpenAIProvider) apiError(resp *http.Response, body []byte) error {
	var apiErr openAIErrorResponse
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = string(body)
	}

	pe := &ProviderError{
		Provider:   p.Name(),
		Code:       apiErr.Error.Type,
		Message:    msg,
		StatusCode: resp.StatusCode,
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Code = "rate_limited"
		pe.IsRetryable = true
		pe.wrapped = ErrRateLimited
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				d := time.Duration(secs) * time.Second
				pe.RetryAfter = &d
			}
		}
	case resp.StatusCode >= 500:
		pe.IsRetryable = true
	}

	if pe.Code == "" {
		pe.Code = "api_error"
	}
	return pe
}

// HealthCheck verifies the provider is accessible
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.GenerateEmbedding(ctx, GenerateRequest{Text: "ping", Model: defaultOpenAIModel})
	return err
}

// Close implements Provider.Close
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// ModelDimensions returns the native dimensions for a known OpenAI
// model, or 0 when unknown.
func ModelDimensions(model string) int {
	return openAIModelDimensions[model]
}
