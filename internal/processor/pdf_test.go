package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/layout"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

type fakeAnalyzer struct {
	result *layout.Result
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, pdf []byte) (*layout.Result, error) {
	return f.result, f.err
}

func manualLayout() *layout.Result {
	return &layout.Result{
		PageCount: 2,
		Paragraphs: []layout.Paragraph{
			{Content: "Owner's Manual", Role: layout.RolePageHeader, PageNumber: 1},
			{Content: "Engine Maintenance", Role: layout.RoleSectionHeading, PageNumber: 1},
			{Content: "Change the engine oil every 6000 miles or once a year, whichever comes first.", PageNumber: 1},
			{Content: "Use only SAE 10W-40 oil meeting JASO MA2 specification.", PageNumber: 1},
			{Content: "Brake System", Role: layout.RoleSectionHeading, PageNumber: 2},
			{Content: "Inspect brake pads for wear before every ride. Replace when below 1.5 mm.", PageNumber: 2},
			{Content: "2", Role: layout.RolePageNumber, PageNumber: 2},
		},
		Tables: []layout.Table{
			{
				RowCount:    2,
				ColumnCount: 2,
				PageNumber:  2,
				Cells: []layout.TableCell{
					{RowIndex: 0, ColumnIndex: 0, Content: "Component", Kind: "columnHeader"},
					{RowIndex: 0, ColumnIndex: 1, Content: "Torque", Kind: "columnHeader"},
					{RowIndex: 1, ColumnIndex: 0, Content: "Caliper bolt"},
					{RowIndex: 1, ColumnIndex: 1, Content: "40 Nm"},
				},
			},
		},
		Figures: []layout.Figure{
			{PageNumber: 1, Caption: "Oil filter location", ImageB64: "aW1hZ2U="},
		},
	}
}

func testPDFConfig() config.IngestionConfig {
	cfg := testIngestionConfig()
	// Thresholds above 1 keep every structural candidate separate, which makes
	// chunk counts deterministic under the hash-based test embeddings.
	cfg.MergeThreshold = 2.0
	cfg.SplitThreshold = 2.0
	cfg.MaxChunkTokens = 1200
	return cfg
}

func newPDFProcessor(t *testing.T, analyzer layout.Analyzer, mock *llm.MockClient) *PDFProcessor {
	t.Helper()
	return NewPDFProcessor(analyzer, mock, mock, testPDFConfig(), "gpt-4o", testDim, observability.NopLogger())
}

func TestPDFProcessEmitsStructuredChunks(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatResponse = "Diagram showing the oil filter behind the right fairing panel."
	p := newPDFProcessor(t, &fakeAnalyzer{result: manualLayout()}, mock)

	result, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Data.Documents, 4)

	byType := map[domain.ChunkType][]domain.MotorcycleDocument{}
	for _, doc := range result.Data.Documents {
		byType[doc.ChunkType] = append(byType[doc.ChunkType], doc)
		assert.Equal(t, domain.DocumentTypeManual, doc.Type)
		assert.Len(t, doc.ContentVector, testDim)
		require.NotNil(t, doc.PageNumber)
	}

	texts := byType[domain.ChunkTypeText]
	require.Len(t, texts, 2)
	assert.Equal(t, "Engine Maintenance", texts[0].Section)
	assert.Contains(t, texts[0].Content, "6000 miles")
	assert.NotContains(t, texts[0].Content, "Owner's Manual", "page headers are dropped")
	assert.Equal(t, "Brake System", texts[1].Section)
	assert.Equal(t, 2, *texts[1].PageNumber)

	tables := byType[domain.ChunkTypeTable]
	require.Len(t, tables, 1)
	assert.Contains(t, tables[0].Content, "Caliper bolt\t40 Nm")
	assert.Equal(t, 2, *tables[0].PageNumber)

	figures := byType[domain.ChunkTypeFigureDescription]
	require.Len(t, figures, 1)
	assert.Contains(t, figures[0].Content, "oil filter")
	assert.Equal(t, 1, *figures[0].PageNumber)
}

func TestPDFProcessFigureDescriptionFailure(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatErr = errors.New("vision model unavailable")
	p := newPDFProcessor(t, &fakeAnalyzer{result: manualLayout()}, mock)

	result, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Data.Documents, 3, "figure chunk is skipped")
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "figure")
}

func TestPDFProcessCircuitOpenFailsBatch(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.EmbedErr = domain.NewError(domain.KindCircuitOpen, "openai.embed", nil)
	p := newPDFProcessor(t, &fakeAnalyzer{result: manualLayout()}, mock)

	_, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.Error(t, err, "an open embedding circuit aborts the whole run")
	assert.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))
}

func TestPDFProcessEmbeddingOutageKeepsChunks(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.EmbedErr = errors.New("embedding service flapping")
	mock.ChatResponse = "Diagram of the oil filter."
	p := newPDFProcessor(t, &fakeAnalyzer{result: manualLayout()}, mock)

	result, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotEmpty(t, result.Data.Documents)
	for _, doc := range result.Data.Documents {
		assert.Empty(t, doc.ContentVector, "documents are kept without vectors")
	}
	assert.NotEmpty(t, result.Errors)
}

func TestPDFProcessAnalyzerFailure(t *testing.T) {
	p := newPDFProcessor(t, &fakeAnalyzer{err: errors.New("service down")}, llm.NewMockClient(testDim))

	result, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestPDFProcessIdempotentIDs(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatResponse = "Diagram of the oil filter."
	p := newPDFProcessor(t, &fakeAnalyzer{result: manualLayout()}, mock)

	r1, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	r2, err := p.Process(context.Background(), "manual.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)

	require.Len(t, r2.Data.Documents, len(r1.Data.Documents))
	for i := range r1.Data.Documents {
		assert.Equal(t, r1.Data.Documents[i].ID, r2.Data.Documents[i].ID)
	}
}

func TestChunkerMergesIdenticalNeighbours(t *testing.T) {
	c := NewChunker(llm.NewMockClient(testDim), 0.95, 0.35, 1200, observability.NopLogger())

	text := "The chain should be cleaned and lubricated every 500 miles of riding."
	candidates := []chunkCandidate{
		{text: text, section: "Chain", page: 1},
		{text: text, section: "Chain", page: 1},
	}

	out := c.Refine(context.Background(), candidates)
	require.Len(t, out, 1, "identical neighbours have cosine 1 and merge")
	assert.Contains(t, out[0].text, text)
}

func TestChunkerSplitsOversized(t *testing.T) {
	c := NewChunker(llm.NewMockClient(testDim), 2.0, 2.0, 50, observability.NopLogger())

	var long string
	for i := 0; i < 40; i++ {
		long += "This sentence pads the chunk well past the configured hard maximum size. "
	}
	out := c.Refine(context.Background(), []chunkCandidate{{text: long, section: "Long", page: 3}})

	require.Greater(t, len(out), 1)
	for _, chunk := range out {
		assert.LessOrEqual(t, estimateTokens(chunk.text), 50)
		assert.Equal(t, "Long", chunk.section)
		assert.Equal(t, 3, chunk.page)
	}
}

func TestChunkerEmbedFailurePassThrough(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.EmbedErr = errors.New("embedding down")
	c := NewChunker(mock, 0.85, 0.35, 1200, observability.NopLogger())

	candidates := []chunkCandidate{
		{text: "First structural block of manual text.", section: "A", page: 1},
		{text: "Second structural block of manual text.", section: "B", page: 2},
	}
	out := c.Refine(context.Background(), candidates)
	assert.Len(t, out, 2, "structural boundaries survive when similarity is unavailable")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
}
