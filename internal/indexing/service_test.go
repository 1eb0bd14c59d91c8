package indexing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/search"
)

type fakeIndex struct {
	ensured    []string
	batches    [][]domain.MotorcycleDocument
	failBatch  int // 1-based batch ordinal to fail wholesale, 0 for none
	rejectDocs map[string]string
	stats      map[string]*search.IndexStats
	statsErr   map[string]error
}

func (f *fakeIndex) EnsureIndex(ctx context.Context, def search.IndexDefinition) error {
	f.ensured = append(f.ensured, def.Name)
	return nil
}

func (f *fakeIndex) UploadBatch(ctx context.Context, indexName string, docs []domain.MotorcycleDocument) (*search.BatchResult, error) {
	f.batches = append(f.batches, docs)
	if f.failBatch == len(f.batches) {
		return nil, errors.New("upstream unavailable")
	}

	result := &search.BatchResult{Failed: make(map[string]string)}
	for _, doc := range docs {
		if msg, ok := f.rejectDocs[doc.ID]; ok {
			result.Failed[doc.ID] = msg
		} else {
			result.Succeeded++
		}
	}
	return result, nil
}

func (f *fakeIndex) Query(ctx context.Context, indexName string, q search.Query) ([]search.Hit, error) {
	return nil, nil
}

func (f *fakeIndex) Stats(ctx context.Context, indexName string) (*search.IndexStats, error) {
	if err := f.statsErr[indexName]; err != nil {
		return nil, err
	}
	if s, ok := f.stats[indexName]; ok {
		return s, nil
	}
	return &search.IndexStats{}, nil
}

func makeDocs(n int) []domain.MotorcycleDocument {
	docs := make([]domain.MotorcycleDocument, n)
	for i := range docs {
		docs[i] = domain.MotorcycleDocument{ID: fmt.Sprintf("doc-%d", i)}
	}
	return docs
}

func newService(idx search.Index) *Service {
	return NewService(idx, config.SearchConfig{BatchSize: 250, VectorDimension: 64}, observability.NopLogger())
}

func TestEnsureSchemasCreatesAllIndices(t *testing.T) {
	idx := &fakeIndex{}
	require.NoError(t, newService(idx).EnsureSchemas(context.Background()))

	assert.Equal(t, []string{search.CSVIndexName, search.PDFIndexName, search.UnifiedIndexName}, idx.ensured)
}

func TestIndexDocumentsBatches(t *testing.T) {
	idx := &fakeIndex{}
	report, err := newService(idx).IndexDocuments(context.Background(), search.CSVIndexName, makeDocs(550))
	require.NoError(t, err)

	assert.Len(t, idx.batches, 3)
	assert.Equal(t, 550, report.Total)
	assert.Equal(t, 550, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.False(t, report.PartialFailure())
}

func TestIndexDocumentsContinuesAfterBatchFailure(t *testing.T) {
	idx := &fakeIndex{failBatch: 1}
	report, err := newService(idx).IndexDocuments(context.Background(), search.CSVIndexName, makeDocs(550))
	require.NoError(t, err)

	assert.Len(t, idx.batches, 3, "later batches run after a failed batch")
	assert.Equal(t, 300, report.Succeeded)
	assert.Len(t, report.Failed, 250)
	assert.Len(t, report.BatchErrors, 1)
	assert.True(t, report.PartialFailure())
}

func TestIndexDocumentsPerDocumentRejects(t *testing.T) {
	idx := &fakeIndex{rejectDocs: map[string]string{"doc-3": "invalid vector dimension"}}
	report, err := newService(idx).IndexDocuments(context.Background(), search.CSVIndexName, makeDocs(10))
	require.NoError(t, err)

	assert.Equal(t, 9, report.Succeeded)
	assert.Equal(t, "invalid vector dimension", report.Failed["doc-3"])
}

func TestStatsAggregation(t *testing.T) {
	idx := &fakeIndex{
		stats: map[string]*search.IndexStats{
			search.CSVIndexName: {DocumentCount: 100, StorageSize: 4096},
			search.PDFIndexName: {DocumentCount: 40, StorageSize: 2048},
		},
		statsErr: map[string]error{search.UnifiedIndexName: errors.New("stats timeout")},
	}

	summary := newService(idx).Stats(context.Background())
	require.Len(t, summary.Indices, 3)
	assert.Equal(t, int64(140), summary.TotalDocuments)
	assert.False(t, summary.Healthy)
	assert.True(t, summary.Indices[0].Healthy)
	assert.False(t, summary.Indices[2].Healthy)
}

func TestBatchSizeHeuristic(t *testing.T) {
	assert.Equal(t, MinBatchSize, BatchSizeFor(0, 1024))
	assert.Equal(t, MinBatchSize, BatchSizeFor(1<<20, 0))
	assert.Equal(t, 256, BatchSizeFor(1<<20, 1024))
	assert.Equal(t, MaxBatchSize, BatchSizeFor(1<<30, 1024))
}
