// Package llm provides the typed client for the remote embedding and
// completion provider.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/resilience"
)

// Embedder generates dense vectors for text.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
	Dimension() int
}

// Completer generates chat and vision completions.
type Completer interface {
	Chat(ctx context.Context, model, prompt string) (string, error)
	Vision(ctx context.Context, model, prompt, imageB64 string) (string, error)
}

// Client talks to an OpenAI-compatible endpoint. All remote calls go through
// the resilience service under the openai.embed / openai.chat policies.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	models     config.ModelsConfig
	dimension  int
	resilience *resilience.Service
	logger     *observability.Logger
}

// ClientConfig holds client construction parameters. Dimension must match the
// vector dimension declared by the target index schema.
type ClientConfig struct {
	Endpoint  string
	APIKey    string
	Models    config.ModelsConfig
	Dimension int
}

// NewClient creates a new provider client.
func NewClient(cfg ClientConfig, httpClient *http.Client, res *resilience.Service, logger *observability.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, domain.NewError(domain.KindConfig, "llm endpoint is required", nil)
	}
	if cfg.APIKey == "" {
		return nil, domain.NewError(domain.KindConfig, "llm api key is required", nil)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 3072
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		dimension:  cfg.Dimension,
		resilience: res,
		logger:     logger.WithComponent("llm"),
	}, nil
}

// Dimension returns the embedding dimension the client was configured with.
func (c *Client) Dimension() int { return c.dimension }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, domain.NewError(domain.KindUpstreamTerminal, "no embedding returned", nil)
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for the given texts, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = c.models.Embedding
	}

	return resilience.Do(ctx, c.resilience, resilience.PolicyOpenAIEmbed, func(ctx context.Context) ([][]float32, error) {
		var resp embeddingResponse
		if err := c.post(ctx, "/embeddings", embeddingRequest{Input: texts, Model: model}, &resp); err != nil {
			return nil, err
		}

		vectors := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index >= 0 && d.Index < len(vectors) {
				vectors[d.Index] = d.Embedding
			}
		}
		for i, v := range vectors {
			if len(v) != c.dimension {
				return nil, domain.NewError(domain.KindUpstreamTerminal,
					fmt.Sprintf("embedding %d has dimension %d, index schema requires %d", i, len(v), c.dimension), nil)
			}
		}
		return vectors, nil
	})
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// Chat requests a text completion for the prompt.
func (c *Client) Chat(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.models.Chat
	}

	req := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.models.MaxTokens,
		Temperature: c.models.Temperature,
	}
	return c.completion(ctx, req)
}

// Vision requests a completion over a prompt plus a base64-encoded image.
func (c *Client) Vision(ctx context.Context, model, prompt, imageB64 string) (string, error) {
	if model == "" {
		model = c.models.Vision
	}

	req := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + imageB64}},
			},
		}},
		MaxTokens:   c.models.MaxTokens,
		Temperature: c.models.Temperature,
	}
	return c.completion(ctx, req)
}

func (c *Client) completion(ctx context.Context, req chatRequest) (string, error) {
	return resilience.Do(ctx, c.resilience, resilience.PolicyOpenAIChat, func(ctx context.Context) (string, error) {
		var resp chatResponse
		if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", domain.NewError(domain.KindUpstreamTerminal, "completion returned no choices", nil)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// post sends a JSON request and decodes the response, converting non-2xx
// statuses into classified HTTP errors.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("api-key", c.apiKey)
	if cid := observability.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.HTTPError{
			Status:     resp.StatusCode,
			Body:       truncate(string(data), 512),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	_ Embedder  = (*Client)(nil)
	_ Completer = (*Client)(nil)
)
