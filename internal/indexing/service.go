// Package indexing owns documents between processing and successful upsert:
// schema creation, batch partitioning, and per-batch error accounting.
package indexing

import (
	"context"
	"fmt"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/search"
)

// Batch size bounds. The heuristic and the configuration are both clamped
// into this range.
const (
	MinBatchSize      = 100
	MaxBatchSize      = 1000
	batchSafetyFactor = 4
)

// Report accumulates the outcome of one indexing run.
type Report struct {
	Total     int
	Succeeded int
	Failed    map[string]string // document id -> error message
	// BatchErrors holds whole-batch upsert failures; later batches still run.
	BatchErrors []string
}

// PartialFailure reports whether some but not all documents were indexed.
func (r *Report) PartialFailure() bool {
	return r.Succeeded > 0 && r.Succeeded < r.Total
}

// IndexStats describes one index for health reporting.
type IndexStats struct {
	Name          string `json:"name"`
	DocumentCount int64  `json:"document_count"`
	StorageSize   int64  `json:"storage_size"`
	Healthy       bool   `json:"healthy"`
}

// Summary aggregates statistics across all indices.
type Summary struct {
	Indices        []IndexStats `json:"indices"`
	TotalDocuments int64        `json:"total_documents"`
	Healthy        bool         `json:"healthy"`
}

// Service drives schema creation and batched upserts.
type Service struct {
	index  search.Index
	cfg    config.SearchConfig
	logger *observability.Logger
}

// NewService creates the indexing service.
func NewService(index search.Index, cfg config.SearchConfig, logger *observability.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 250
	}
	if cfg.VectorDimension <= 0 {
		cfg.VectorDimension = search.DefaultVectorDimension
	}

	return &Service{
		index:  index,
		cfg:    cfg,
		logger: logger.WithComponent("indexing"),
	}
}

// EnsureSchemas creates the CSV, PDF, and unified indices if absent. Safe to
// call on every startup.
func (s *Service) EnsureSchemas(ctx context.Context) error {
	for _, def := range search.AllIndexDefinitions(s.cfg.VectorDimension) {
		if err := s.index.EnsureIndex(ctx, def); err != nil {
			return fmt.Errorf("ensure schema %s: %w", def.Name, err)
		}
	}
	return nil
}

// IndexDocuments upserts the documents in batches. A failed batch is recorded
// and the remaining batches still run; the error return is reserved for
// cancellation.
func (s *Service) IndexDocuments(ctx context.Context, indexName string, docs []domain.MotorcycleDocument) (*Report, error) {
	report := &Report{Total: len(docs), Failed: make(map[string]string)}
	if len(docs) == 0 {
		return report, nil
	}

	batchSize := clampBatchSize(s.cfg.BatchSize)
	for start := 0; start < len(docs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		result, err := s.index.UploadBatch(ctx, indexName, batch)
		if err != nil {
			report.BatchErrors = append(report.BatchErrors, fmt.Sprintf("batch %d-%d: %v", start, end-1, err))
			for _, doc := range batch {
				report.Failed[doc.ID] = err.Error()
			}
			s.logger.WithContext(ctx).Error().
				Err(err).
				Str("index", indexName).
				Int("batch_start", start).
				Msg("Batch upsert failed, continuing with next batch")
			continue
		}

		report.Succeeded += result.Succeeded
		for id, msg := range result.Failed {
			report.Failed[id] = msg
		}
	}

	s.logger.WithContext(ctx).Info().
		Str("index", indexName).
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", len(report.Failed)).
		Msg("Indexing run complete")
	return report, nil
}

// Stats aggregates per-index statistics. An index whose stats call fails is
// reported unhealthy rather than failing the aggregate.
func (s *Service) Stats(ctx context.Context) *Summary {
	summary := &Summary{Healthy: true}
	for _, def := range search.AllIndexDefinitions(s.cfg.VectorDimension) {
		stats, err := s.index.Stats(ctx, def.Name)
		if err != nil {
			summary.Indices = append(summary.Indices, IndexStats{Name: def.Name})
			summary.Healthy = false
			s.logger.WithContext(ctx).Warn().Err(err).Str("index", def.Name).Msg("Stats unavailable")
			continue
		}
		summary.Indices = append(summary.Indices, IndexStats{
			Name:          def.Name,
			DocumentCount: stats.DocumentCount,
			StorageSize:   stats.StorageSize,
			Healthy:       true,
		})
		summary.TotalDocuments += stats.DocumentCount
	}
	return summary
}

// BatchSizeFor derives a batch size from available memory and the average
// document size, clamped into the supported range.
func BatchSizeFor(availableMemoryBytes, avgDocBytes int64) int {
	if avgDocBytes <= 0 {
		return MinBatchSize
	}
	return clampBatchSize(int(availableMemoryBytes / (avgDocBytes * batchSafetyFactor)))
}

func clampBatchSize(n int) int {
	if n < MinBatchSize {
		return MinBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
