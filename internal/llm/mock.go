package llm

import (
	"context"
	"math"
	"sync"
)

// MockClient is a deterministic in-process implementation for tests.
type MockClient struct {
	mu        sync.Mutex
	dimension int

	// EmbedErr, when set, is returned by every embedding call.
	EmbedErr error
	// ChatErr, when set, is returned by every completion call.
	ChatErr error
	// ChatResponse is returned by Chat and Vision when ChatErr is nil.
	ChatResponse string

	EmbedCalls int
	ChatCalls  int
}

// NewMockClient creates a mock with the given embedding dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 3072
	}
	return &MockClient{dimension: dimension}
}

// Embed returns a normalized hash-derived vector, stable per input text.
func (m *MockClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one stable vector per text.
func (m *MockClient) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.EmbedCalls++
	err := m.EmbedErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, m.dimension)
		for j, r := range text {
			v[j%m.dimension] += float32(r) / 1000.0
		}
		vectors[i] = normalize(v)
	}
	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (m *MockClient) Dimension() int { return m.dimension }

// Chat returns the scripted response.
func (m *MockClient) Chat(ctx context.Context, model, prompt string) (string, error) {
	m.mu.Lock()
	m.ChatCalls++
	err := m.ChatErr
	resp := m.ChatResponse
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	if resp == "" {
		resp = "mock completion"
	}
	return resp, nil
}

// Vision returns the scripted response.
func (m *MockClient) Vision(ctx context.Context, model, prompt, imageB64 string) (string, error) {
	return m.Chat(ctx, model, prompt)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

var (
	_ Embedder  = (*MockClient)(nil)
	_ Completer = (*MockClient)(nil)
)
