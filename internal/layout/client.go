// Package layout provides the client for the remote document layout
// analysis service used by PDF ingestion.
package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/resilience"
)

const (
	analyzeAPIVersion  = "2024-07-31-preview"
	defaultPollDelay   = 2 * time.Second
	defaultMaxPolls    = 60
	analyzeContentType = "application/pdf"
)

// ParagraphRole marks the structural role the analysis assigned a paragraph.
type ParagraphRole string

const (
	RoleTitle          ParagraphRole = "title"
	RoleSectionHeading ParagraphRole = "sectionHeading"
	RolePageHeader     ParagraphRole = "pageHeader"
	RolePageFooter     ParagraphRole = "pageFooter"
	RolePageNumber     ParagraphRole = "pageNumber"
)

// Paragraph is one analyzed text block.
type Paragraph struct {
	Content    string        `json:"content"`
	Role       ParagraphRole `json:"role,omitempty"`
	PageNumber int           `json:"pageNumber"`
}

// TableCell is one cell of an analyzed table.
type TableCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content"`
	Kind        string `json:"kind,omitempty"` // columnHeader for header cells
}

// Table is one analyzed table.
type Table struct {
	RowCount    int         `json:"rowCount"`
	ColumnCount int         `json:"columnCount"`
	Cells       []TableCell `json:"cells"`
	PageNumber  int         `json:"pageNumber"`
}

// Figure is one detected figure, carried as a cropped image for captioning.
type Figure struct {
	PageNumber int    `json:"pageNumber"`
	Caption    string `json:"caption,omitempty"`
	ImageB64   string `json:"imageB64,omitempty"`
}

// Result is the full structural analysis of one document.
type Result struct {
	PageCount  int
	Paragraphs []Paragraph
	Tables     []Table
	Figures    []Figure
}

// Analyzer is the capability the PDF processor depends on.
type Analyzer interface {
	Analyze(ctx context.Context, pdf []byte) (*Result, error)
}

// Client implements Analyzer against the layout analysis REST API. Analysis
// is asynchronous on the service side: a submit returns an operation URL that
// is polled until the run succeeds or fails.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	resilience *resilience.Service
	logger     *observability.Logger

	pollDelay time.Duration
	maxPolls  int
}

// NewClient creates a new layout analysis client.
func NewClient(endpoint, apiKey string, httpClient *http.Client, res *resilience.Service, logger *observability.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, domain.NewError(domain.KindConfig, "layout analysis endpoint is required", nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		resilience: res,
		logger:     logger.WithComponent("layout"),
		pollDelay:  defaultPollDelay,
		maxPolls:   defaultMaxPolls,
	}, nil
}

type analyzeResponse struct {
	Status        string         `json:"status"` // running, succeeded, failed
	AnalyzeResult *analyzeResult `json:"analyzeResult,omitempty"`
	Error         *analyzeError  `json:"error,omitempty"`
}

type analyzeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzePage struct {
	PageNumber int `json:"pageNumber"`
}

type analyzeResult struct {
	Pages      []analyzePage      `json:"pages"`
	Paragraphs []analyzeParagraph `json:"paragraphs"`
	Tables     []analyzeTable     `json:"tables"`
	Figures    []analyzeFigure    `json:"figures"`
}

type boundingRegion struct {
	PageNumber int `json:"pageNumber"`
}

type analyzeParagraph struct {
	Content         string           `json:"content"`
	Role            string           `json:"role,omitempty"`
	BoundingRegions []boundingRegion `json:"boundingRegions"`
}

type analyzeTable struct {
	RowCount        int              `json:"rowCount"`
	ColumnCount     int              `json:"columnCount"`
	Cells           []TableCell      `json:"cells"`
	BoundingRegions []boundingRegion `json:"boundingRegions"`
}

type analyzeFigure struct {
	Caption *struct {
		Content string `json:"content"`
	} `json:"caption,omitempty"`
	Image           string           `json:"image,omitempty"`
	BoundingRegions []boundingRegion `json:"boundingRegions"`
}

// Analyze runs layout analysis over the raw PDF bytes and returns the
// structural result. The whole submit-and-poll cycle runs as one policy
// operation so a failed run retries from the submit.
func (c *Client) Analyze(ctx context.Context, pdf []byte) (*Result, error) {
	if len(pdf) == 0 {
		return nil, domain.NewError(domain.KindValidation, "empty document", nil)
	}

	return resilience.Do(ctx, c.resilience, resilience.PolicyDocIntelAnalyze, func(ctx context.Context) (*Result, error) {
		opURL, err := c.submit(ctx, pdf)
		if err != nil {
			return nil, err
		}
		return c.poll(ctx, opURL)
	})
}

func (c *Client) submit(ctx context.Context, pdf []byte) (string, error) {
	path := fmt.Sprintf("%s/documentintelligence/documentModels/prebuilt-layout:analyze?api-version=%s&output=figures", c.endpoint, analyzeAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(pdf))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", analyzeContentType)
	req.Header.Set("api-key", c.apiKey)
	if cid := observability.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit analysis: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", &domain.HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", domain.NewError(domain.KindUpstreamTerminal, "analysis accepted without operation location", nil)
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, opURL string) (*Result, error) {
	for i := 0; i < c.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollDelay):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create poll request: %w", err)
		}
		req.Header.Set("api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("poll analysis: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read poll response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &domain.HTTPError{Status: resp.StatusCode, Body: string(body)}
		}

		var ar analyzeResponse
		if err := json.Unmarshal(body, &ar); err != nil {
			return nil, fmt.Errorf("unmarshal poll response: %w", err)
		}

		switch ar.Status {
		case "succeeded":
			return convertResult(ar.AnalyzeResult), nil
		case "failed":
			msg := "layout analysis failed"
			if ar.Error != nil {
				msg = fmt.Sprintf("layout analysis failed: %s: %s", ar.Error.Code, ar.Error.Message)
			}
			return nil, domain.NewError(domain.KindUpstreamTerminal, msg, nil)
		}
	}

	return nil, domain.NewError(domain.KindTimeout, "layout analysis did not complete in time", nil)
}

func convertResult(ar *analyzeResult) *Result {
	result := &Result{}
	if ar == nil {
		return result
	}
	result.PageCount = len(ar.Pages)

	for _, p := range ar.Paragraphs {
		page := 0
		if len(p.BoundingRegions) > 0 {
			page = p.BoundingRegions[0].PageNumber
		}
		result.Paragraphs = append(result.Paragraphs, Paragraph{
			Content:    p.Content,
			Role:       ParagraphRole(p.Role),
			PageNumber: page,
		})
	}

	for _, t := range ar.Tables {
		page := 0
		if len(t.BoundingRegions) > 0 {
			page = t.BoundingRegions[0].PageNumber
		}
		result.Tables = append(result.Tables, Table{
			RowCount:    t.RowCount,
			ColumnCount: t.ColumnCount,
			Cells:       t.Cells,
			PageNumber:  page,
		})
	}

	for _, f := range ar.Figures {
		page := 0
		if len(f.BoundingRegions) > 0 {
			page = f.BoundingRegions[0].PageNumber
		}
		fig := Figure{PageNumber: page, ImageB64: f.Image}
		if f.Caption != nil {
			fig.Caption = f.Caption.Content
		}
		result.Figures = append(result.Figures, fig)
	}

	return result
}

var _ Analyzer = (*Client)(nil)
