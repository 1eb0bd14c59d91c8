// Package websearch provides the external web search facade used by the web
// search agent.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/resilience"
)

// Result is one external search hit, content already truncated to the
// configured budget.
type Result struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Snippet   string     `json:"snippet"`
	Published *time.Time `json:"published,omitempty"`
}

// Searcher is the capability the web search agent depends on.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Client implements Searcher against a web search REST API, with a token
// bucket limiter and domain authority filtering in front of the wire call.
type Client struct {
	httpClient    *http.Client
	endpoint      string
	apiKey        string
	limiter       *rate.Limiter
	allowed       []string
	blocked       []string
	contentBudget int
	resilience    *resilience.Service
	logger        *observability.Logger
}

// NewClient creates a web search client.
func NewClient(cfg config.WebSearchConfig, httpClient *http.Client, res *resilience.Service, logger *observability.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, domain.NewError(domain.KindConfig, "websearch endpoint is required", nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	budget := cfg.ContentBudget
	if budget <= 0 {
		budget = 4000
	}

	return &Client{
		httpClient:    httpClient,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		allowed:       cfg.AllowedDomains,
		blocked:       cfg.BlockedDomains,
		contentBudget: budget,
		resilience:    res,
		logger:        logger.WithComponent("websearch"),
	}, nil
}

type searchResponse struct {
	WebPages struct {
		Value []struct {
			Name          string `json:"name"`
			URL           string `json:"url"`
			Snippet       string `json:"snippet"`
			DatePublished string `json:"datePublished"`
		} `json:"value"`
	} `json:"webPages"`
}

// Search runs one rate-limited external query and returns filtered results.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	return resilience.Do(ctx, c.resilience, resilience.PolicyWebSearchFetch, func(ctx context.Context) ([]Result, error) {
		resp, err := c.fetch(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}

		results := make([]Result, 0, len(resp.WebPages.Value))
		for _, page := range resp.WebPages.Value {
			if !c.domainAllowed(page.URL) {
				continue
			}
			r := Result{
				Title:   page.Name,
				URL:     page.URL,
				Snippet: truncate(page.Snippet, c.contentBudget),
			}
			if t, err := time.Parse(time.RFC3339, page.DatePublished); err == nil {
				r.Published = &t
			}
			results = append(results, r)
			if len(results) == maxResults {
				break
			}
		}
		return results, nil
	})
}

func (c *Client) fetch(ctx context.Context, query string, count int) (*searchResponse, error) {
	u := c.endpoint + "/search?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	if cid := observability.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.HTTPError{Status: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &parsed, nil
}

// domainAllowed applies the blocklist, then the allowlist when one is set.
// Matching is by host suffix so subdomains inherit their parent's authority.
func (c *Client) domainAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	for _, blocked := range c.blocked {
		if hostMatches(host, blocked) {
			return false
		}
	}
	if len(c.allowed) == 0 {
		return true
	}
	for _, allowed := range c.allowed {
		if hostMatches(host, allowed) {
			return true
		}
	}
	return false
}

func hostMatches(host, domainSuffix string) bool {
	domainSuffix = strings.ToLower(strings.TrimSpace(domainSuffix))
	return host == domainSuffix || strings.HasSuffix(host, "."+domainSuffix)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Searcher = (*Client)(nil)
