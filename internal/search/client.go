// Package search provides the client for the hybrid full-text and vector
// index engine, plus the three versioned index schemas.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/resilience"
)

const apiVersion = "2024-07-01"

// Hit is one ranked result from the index.
type Hit struct {
	Document domain.MotorcycleDocument
	Score    float64
}

// Query describes a single index query. Text drives the lexical side; Vector,
// when present, adds the dense side so the engine merges both rankings.
type Query struct {
	Text    string
	Vector  []float32
	TopK    int
	Filters map[string]string
}

// BatchResult reports the outcome of one upsert batch.
type BatchResult struct {
	Succeeded int
	Failed    map[string]string // document id -> error message
}

// IndexStats describes one index.
type IndexStats struct {
	DocumentCount int64 `json:"documentCount"`
	StorageSize   int64 `json:"storageSize"`
}

// Index is the capability the ingestion service and agents depend on.
type Index interface {
	EnsureIndex(ctx context.Context, def IndexDefinition) error
	UploadBatch(ctx context.Context, indexName string, docs []domain.MotorcycleDocument) (*BatchResult, error)
	Query(ctx context.Context, indexName string, q Query) ([]Hit, error)
	Stats(ctx context.Context, indexName string) (*IndexStats, error)
}

// Client implements Index against the engine's REST API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	resilience *resilience.Service
	logger     *observability.Logger
}

// NewClient creates a new index client.
func NewClient(endpoint, apiKey string, httpClient *http.Client, res *resilience.Service, logger *observability.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, domain.NewError(domain.KindConfig, "search endpoint is required", nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		resilience: res,
		logger:     logger.WithComponent("search"),
	}, nil
}

// EnsureIndex creates or updates the index definition. The PUT is idempotent:
// re-applying an unchanged definition is a no-op on the engine side.
func (c *Client) EnsureIndex(ctx context.Context, def IndexDefinition) error {
	_, err := resilience.Do(ctx, c.resilience, resilience.PolicySearchUpsert, func(ctx context.Context) (struct{}, error) {
		path := fmt.Sprintf("/indexes/%s?api-version=%s&allowIndexDowntime=false", url.PathEscape(def.Name), apiVersion)
		return struct{}{}, c.do(ctx, http.MethodPut, path, def, nil)
	})
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", def.Name, err)
	}

	c.logger.Info().Str("index", def.Name).Msg("Index schema ensured")
	return nil
}

type indexBatch struct {
	Value []indexAction `json:"value"`
}

type indexAction struct {
	Action string `json:"@search.action"`
	domain.MotorcycleDocument
}

type indexBatchResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"value"`
}

// UploadBatch upserts documents with merge-or-upload semantics. Per-document
// failures are reported in the result rather than failing the call.
func (c *Client) UploadBatch(ctx context.Context, indexName string, docs []domain.MotorcycleDocument) (*BatchResult, error) {
	if len(docs) == 0 {
		return &BatchResult{}, nil
	}

	batch := indexBatch{Value: make([]indexAction, len(docs))}
	for i, doc := range docs {
		batch.Value[i] = indexAction{Action: "mergeOrUpload", MotorcycleDocument: doc}
	}

	return resilience.Do(ctx, c.resilience, resilience.PolicySearchUpsert, func(ctx context.Context) (*BatchResult, error) {
		var resp indexBatchResponse
		path := fmt.Sprintf("/indexes/%s/docs/index?api-version=%s", url.PathEscape(indexName), apiVersion)
		if err := c.do(ctx, http.MethodPost, path, batch, &resp); err != nil {
			return nil, err
		}

		result := &BatchResult{Failed: make(map[string]string)}
		for _, item := range resp.Value {
			if item.Status {
				result.Succeeded++
			} else {
				result.Failed[item.Key] = item.ErrorMessage
			}
		}
		return result, nil
	})
}

type searchRequest struct {
	Search        string        `json:"search,omitempty"`
	Filter        string        `json:"filter,omitempty"`
	Top           int           `json:"top"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchResponse struct {
	Value []searchHit `json:"value"`
}

type searchHit struct {
	Score float64 `json:"@search.score"`
	domain.MotorcycleDocument
}

// Query runs a keyword, vector, or hybrid query depending on what q carries.
// Results come back in the order the engine ranks them.
func (c *Client) Query(ctx context.Context, indexName string, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}

	req := searchRequest{
		Search: q.Text,
		Filter: buildFilter(q.Filters),
		Top:    q.TopK,
	}
	if len(q.Vector) > 0 {
		req.VectorQueries = []vectorQuery{{
			Kind:   "vector",
			Vector: q.Vector,
			Fields: "content_vector",
			K:      q.TopK,
		}}
	}

	return resilience.Do(ctx, c.resilience, resilience.PolicySearchQuery, func(ctx context.Context) ([]Hit, error) {
		var resp searchResponse
		path := fmt.Sprintf("/indexes/%s/docs/search?api-version=%s", url.PathEscape(indexName), apiVersion)
		if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
			return nil, err
		}

		hits := make([]Hit, 0, len(resp.Value))
		for _, h := range resp.Value {
			hits = append(hits, Hit{Document: h.MotorcycleDocument, Score: h.Score})
		}
		return hits, nil
	})
}

// Stats returns document count and storage size for the index.
func (c *Client) Stats(ctx context.Context, indexName string) (*IndexStats, error) {
	return resilience.Do(ctx, c.resilience, resilience.PolicySearchQuery, func(ctx context.Context) (*IndexStats, error) {
		var stats IndexStats
		path := fmt.Sprintf("/indexes/%s/stats?api-version=%s", url.PathEscape(indexName), apiVersion)
		if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
			return nil, err
		}
		return &stats, nil
	})
}

// buildFilter renders field equalities as an OData filter expression.
func buildFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(filters))
	for field, value := range filters {
		parts = append(parts, fmt.Sprintf("%s eq '%s'", field, strings.ReplaceAll(value, "'", "''")))
	}
	return strings.Join(parts, " and ")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
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
		return &domain.HTTPError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

var _ Index = (*Client)(nil)
