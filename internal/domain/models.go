// Package domain defines the core data model shared across the ingestion
// pipeline and the retrieval agents.
package domain

import (
	"time"
)

// DocumentType discriminates the origin of an indexed document.
type DocumentType string

const (
	DocumentTypeSpecification DocumentType = "specification"
	DocumentTypeManual        DocumentType = "manual"
	DocumentTypeWebArticle    DocumentType = "web_article"
)

// ChunkType discriminates the structural kind of a PDF-derived chunk.
type ChunkType string

const (
	ChunkTypeText              ChunkType = "text"
	ChunkTypeTable             ChunkType = "table"
	ChunkTypeFigureDescription ChunkType = "figure-description"
)

// AgentType discriminates the retrieval strategy that produced a result.
type AgentType string

const (
	AgentTypeVector AgentType = "vector"
	AgentTypePDF    AgentType = "pdf"
	AgentTypeWeb    AgentType = "web"
)

// Content length bounds enforced by Validate.
const (
	MinContentLength = 10
	MaxContentLength = 1_000_000
	MaxTitleLength   = 500
)

// MotorcycleDocument is the atomic indexable unit.
type MotorcycleDocument struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Type          DocumentType   `json:"type"`
	ContentVector []float32      `json:"content_vector,omitempty"`
	SourceFile    string         `json:"source_file"`
	SourceURL     string         `json:"source_url,omitempty"`
	Section       string         `json:"section,omitempty"`
	PageNumber    *int           `json:"page_number,omitempty"`
	ChunkType     ChunkType      `json:"chunk_type,omitempty"`
	Author        string         `json:"author,omitempty"`
	PublishedDate *time.Time     `json:"published_date,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Additional    map[string]any `json:"additional_properties,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate checks document invariants. vectorDim is the dimension the target
// index schema declares; it is the single source of truth for vector length.
func (d *MotorcycleDocument) Validate(vectorDim int) error {
	if d.ID == "" {
		return &Error{Kind: KindValidation, Message: "document id is required"}
	}
	if n := len(d.Content); n < MinContentLength || n > MaxContentLength {
		return &Error{Kind: KindValidation, Message: "content length out of bounds"}
	}
	if len(d.Title) > MaxTitleLength {
		return &Error{Kind: KindValidation, Message: "title exceeds 500 characters"}
	}
	if len(d.ContentVector) > 0 && vectorDim > 0 && len(d.ContentVector) != vectorDim {
		return &Error{Kind: KindValidation, Message: "content vector dimension does not match index schema"}
	}
	return nil
}

// ProcessedData is the output of one ingestion call.
type ProcessedData struct {
	BatchID   string               `json:"batch_id"`
	Documents []MotorcycleDocument `json:"documents"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
}

// ProcessingResult reports the outcome of a processor run.
type ProcessingResult struct {
	Success bool           `json:"success"`
	Data    *ProcessedData `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	// Errors holds non-fatal per-row or per-document problems, e.g. skipped
	// malformed rows or individual embedding failures.
	Errors []string `json:"errors,omitempty"`
}

// SourceRef identifies where a search result came from.
type SourceRef struct {
	AgentType  AgentType `json:"agent_type"`
	SourceName string    `json:"source_name"`
	DocumentID string    `json:"document_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Page       *int      `json:"page,omitempty"`
	Section    string    `json:"section,omitempty"`
}

// SearchResult is a retrieved snippet.
type SearchResult struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	RelevanceScore float64        `json:"relevance_score"`
	Source         SourceRef      `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DedupKey groups results referring to the same underlying document.
func (r *SearchResult) DedupKey() string {
	if r.Source.DocumentID != "" {
		return r.Source.DocumentID
	}
	return r.ID
}

// QueryPlan is the planner's decomposition of a user query.
type QueryPlan struct {
	OriginalQuery string   `json:"original_query"`
	SubQueries    []string `json:"sub_queries"`
	UseWebSearch  bool     `json:"use_web_search"`
	RunParallel   bool     `json:"run_parallel"`
}

// TrivialPlan is the deterministic fallback when the planner model is
// unavailable or its response cannot be parsed.
func TrivialPlan(query string, includeWeb bool) QueryPlan {
	return QueryPlan{
		OriginalQuery: query,
		SubQueries:    []string{query},
		UseWebSearch:  includeWeb,
		RunParallel:   true,
	}
}

// SearchOptions bounds a single agent invocation.
type SearchOptions struct {
	MaxResults        int               `json:"max_results"`
	MinRelevanceScore float64           `json:"min_relevance_score"`
	IncludeMetadata   bool              `json:"include_metadata"`
	Filters           map[string]string `json:"filters,omitempty"`
	Timeout           time.Duration     `json:"timeout"`
	EnableCaching     bool              `json:"enable_caching"`
}

// DefaultSearchOptions returns the option defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		MaxResults:        10,
		MinRelevanceScore: 0.0,
		IncludeMetadata:   true,
		Timeout:           30 * time.Second,
		EnableCaching:     true,
	}
}

// Normalize clamps options into their valid ranges.
func (o *SearchOptions) Normalize() {
	if o.MaxResults < 1 {
		o.MaxResults = 10
	}
	if o.MaxResults > 100 {
		o.MaxResults = 100
	}
	if o.MinRelevanceScore < 0 {
		o.MinRelevanceScore = 0
	}
	if o.MinRelevanceScore > 1 {
		o.MinRelevanceScore = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// SearchPreferences are the caller's per-request toggles.
type SearchPreferences struct {
	IncludePDF     bool `json:"include_pdf"`
	IncludeWeb     bool `json:"include_web"`
	SemanticRerank bool `json:"semantic_rerank"`
}

// QueryContext carries request-scoped context into the orchestrator.
type QueryContext struct {
	SessionID       string            `json:"session_id,omitempty"`
	Preferences     SearchPreferences `json:"preferences"`
	PreviousQueries []string          `json:"previous_queries,omitempty"`
	Additional      map[string]any    `json:"additional,omitempty"`
}
