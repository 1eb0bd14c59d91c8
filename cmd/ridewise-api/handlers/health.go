package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/indexing"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

// StatsProvider reports index statistics for health aggregation.
type StatsProvider interface {
	Stats(ctx context.Context) *indexing.Summary
}

// HealthHandler aggregates the health of the index and the query cache.
type HealthHandler struct {
	logger     *observability.Logger
	indexStats StatsProvider
	queryCache *cache.QueryCache
}

// NewHealthHandler creates a health handler. Either dependency may be nil in
// reduced deployments.
func NewHealthHandler(logger *observability.Logger, indexStats StatsProvider, queryCache *cache.QueryCache) *HealthHandler {
	return &HealthHandler{
		logger:     logger.WithComponent("api"),
		indexStats: indexStats,
		queryCache: queryCache,
	}
}

// HealthResponseDTO is the response body for GET /api/motorcycles/health.
type HealthResponseDTO struct {
	IsHealthy bool           `json:"is_healthy"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Health handles GET /api/motorcycles/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	details := make(map[string]any)
	healthy := true

	if h.indexStats != nil {
		summary := h.indexStats.Stats(ctx)
		details["indices"] = summary.Indices
		details["total_documents"] = summary.TotalDocuments
		if !summary.Healthy {
			healthy = false
		}
	}
	if h.queryCache != nil {
		details["cache"] = h.queryCache.Stats()
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponseDTO{
		IsHealthy: healthy,
		Status:    status,
		Details:   details,
		CheckedAt: time.Now().UTC(),
	})
}
