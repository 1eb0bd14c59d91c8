// Package handlers provides HTTP handlers for the motorcycle QA API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/orchestrator"
)

// Query length bounds for the public endpoint.
const (
	minQueryLength = 3
	maxQueryLength = 1000
)

// QueryService is the orchestrator capability the handler depends on.
type QueryService interface {
	Query(ctx context.Context, query string, qc domain.QueryContext, opts domain.SearchOptions) (*orchestrator.Response, error)
}

// QueryHandler handles motorcycle question answering requests.
type QueryHandler struct {
	logger   *observability.Logger
	service  QueryService
	deadline time.Duration
}

// NewQueryHandler creates a query handler. deadline bounds the whole
// orchestration for one request.
func NewQueryHandler(logger *observability.Logger, service QueryService, deadline time.Duration) *QueryHandler {
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	return &QueryHandler{
		logger:   logger.WithComponent("api"),
		service:  service,
		deadline: deadline,
	}
}

// QueryRequestDTO is the request body for POST /api/motorcycles/query.
type QueryRequestDTO struct {
	Query       string                    `json:"query"`
	Preferences *domain.SearchPreferences `json:"preferences,omitempty"`
	UserID      string                    `json:"user_id,omitempty"`
	Context     *domain.QueryContext      `json:"context,omitempty"`
	MaxResults  int                       `json:"max_results,omitempty"`
}

// QueryResponseDTO is the response body.
type QueryResponseDTO struct {
	Response    string                `json:"response"`
	Sources     []domain.SourceRef    `json:"sources"`
	Results     []domain.SearchResult `json:"results,omitempty"`
	Metrics     orchestrator.Metrics  `json:"metrics"`
	QueryID     string                `json:"query_id"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// ErrorDTO is the error envelope for 4xx and 5xx responses.
type ErrorDTO struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Query handles POST /api/motorcycles/query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deadline)
	defer cancel()

	var req QueryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON", "")
		return
	}

	if n := len(req.Query); n < minQueryLength || n > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query must be between 3 and 1000 characters", "")
		return
	}

	qc := domain.QueryContext{}
	if req.Context != nil {
		qc = *req.Context
	}
	if req.Preferences != nil {
		qc.Preferences = *req.Preferences
	}

	opts := domain.DefaultSearchOptions()
	if req.MaxResults > 0 {
		opts.MaxResults = req.MaxResults
	}
	opts.Normalize()

	resp, err := h.service.Query(ctx, req.Query, qc, opts)
	if err != nil {
		cid := observability.CorrelationIDFromContext(ctx)
		if domain.KindOf(err) == domain.KindValidation {
			writeError(w, http.StatusBadRequest, err.Error(), cid)
			return
		}
		h.logger.WithContext(ctx).Error().Err(err).Str("user_id", req.UserID).Msg("Query failed")
		writeError(w, http.StatusInternalServerError, "an internal error occurred while answering the query", cid)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponseDTO{
		Response:    resp.Answer,
		Sources:     resp.Sources,
		Results:     resp.Results,
		Metrics:     resp.Metrics,
		QueryID:     resp.QueryID,
		GeneratedAt: resp.GeneratedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, correlationID string) {
	writeJSON(w, status, ErrorDTO{Error: message, CorrelationID: correlationID})
}
