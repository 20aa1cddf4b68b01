package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// MockProvider is a deterministic in-memory provider used in tests and
// local development. Vectors are derived from a SHA-256 of the input, so
// identical text always yields an identical vector.
type MockProvider struct {
	dimensions int

	mu        sync.Mutex
	calls     int
	failTexts map[string]error
}

// NewMockProvider creates a mock provider producing vectors of the given
// dimensionality.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &MockProvider{
		dimensions: dimensions,
		failTexts:  make(map[string]error),
	}
}

// FailOn makes the provider return err for a specific input text.
func (p *MockProvider) FailOn(text string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTexts[text] = err
}

// Calls returns the number of provider invocations (single or batch).
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Name implements Provider.Name
func (p *MockProvider) Name() string {
	return "mock"
}

// MaxBatchSize implements Provider.MaxBatchSize
func (p *MockProvider) MaxBatchSize() int {
	return 16
}

// GenerateEmbedding implements Provider.GenerateEmbedding
func (p *MockProvider) GenerateEmbedding(ctx context.Context, req GenerateRequest) (*Response, error) {
	p.mu.Lock()
	p.calls++
	err := p.failTexts[req.Text]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, &ProviderError{Provider: p.Name(), Code: "empty_input", Message: "text cannot be empty"}
	}

	return &Response{
		Embedding:  p.vectorFor(req.Text),
		Model:      req.Model,
		Dimensions: p.dimensions,
	}, nil
}

// BatchGenerateEmbeddings implements Provider.BatchGenerateEmbeddings
func (p *MockProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateRequest) (*BatchResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	embeddings := make([][]float32, 0, len(req.Texts))
	for _, text := range req.Texts {
		p.mu.Lock()
		err := p.failTexts[text]
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, p.vectorFor(text))
	}

	return &BatchResponse{
		Embeddings: embeddings,
		Model:      req.Model,
		Dimensions: p.dimensions,
	}, nil
}

func (p *MockProvider) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, p.dimensions)
	for i := range vec {
		// Cycle through the digest four bytes at a time.
		off := (i * 4) % (len(sum) - 3)
		vec[i] = float32(binary.BigEndian.Uint32(sum[off:off+4])%2000)/1000.0 - 1.0
	}
	return vec
}

// HealthCheck implements Provider.HealthCheck
func (p *MockProvider) HealthCheck(ctx context.Context) error {
	return nil
}

// Close implements Provider.Close
func (p *MockProvider) Close() error {
	return nil
}
