package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/layout"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

const figureDescriptionPrompt = "Describe this figure from a motorcycle manual in two to four sentences. " +
	"Name the depicted parts and any labels or callouts so the description is useful for search."

// PDFProcessor turns manual PDFs into structure-aware indexable chunks.
type PDFProcessor struct {
	analyzer    layout.Analyzer
	embedder    llm.Embedder
	completer   llm.Completer
	chunker     *Chunker
	visionModel string
	vectorDim   int
	logger      *observability.Logger
}

// NewPDFProcessor creates a PDF processor.
func NewPDFProcessor(analyzer layout.Analyzer, embedder llm.Embedder, completer llm.Completer, cfg config.IngestionConfig, visionModel string, vectorDim int, logger *observability.Logger) *PDFProcessor {
	return &PDFProcessor{
		analyzer:    analyzer,
		embedder:    embedder,
		completer:   completer,
		chunker:     NewChunker(embedder, cfg.MergeThreshold, cfg.SplitThreshold, cfg.MaxChunkTokens, logger),
		visionModel: visionModel,
		vectorDim:   vectorDim,
		logger:      logger.WithComponent("pdf-processor"),
	}
}

// Process analyzes the PDF and emits text, table, and figure-description
// documents with citation metadata.
func (p *PDFProcessor) Process(ctx context.Context, sourceName string, data []byte) (*domain.ProcessingResult, error) {
	analysis, err := p.analyzer.Analyze(ctx, data)
	if err != nil {
		if domain.IsTerminal(err) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("analyze %s: %w", sourceName, err)
		}
		return failure(fmt.Sprintf("layout analysis failed: %v", err)), nil
	}

	result := &domain.ProcessingResult{
		Success: true,
		Data: &domain.ProcessedData{
			BatchID: uuid.NewString(),
			Metadata: map[string]any{
				"source_file": sourceName,
				"page_count":  analysis.PageCount,
				"tables":      len(analysis.Tables),
				"figures":     len(analysis.Figures),
			},
		},
	}

	candidates := textCandidates(analysis.Paragraphs)
	chunks := p.chunker.Refine(ctx, candidates)

	now := time.Now().UTC()
	ordinal := 0
	for _, chunk := range chunks {
		doc := p.buildChunkDocument(sourceName, chunk.text, chunk.section, chunk.page, domain.ChunkTypeText, ordinal, now)
		if err := p.attach(ctx, result, doc); err != nil {
			return nil, err
		}
		ordinal++
	}

	for _, table := range analysis.Tables {
		section := nearestSection(candidates, table.PageNumber)
		doc := p.buildChunkDocument(sourceName, serializeTable(table), section, table.PageNumber, domain.ChunkTypeTable, ordinal, now)
		if err := p.attach(ctx, result, doc); err != nil {
			return nil, err
		}
		ordinal++
	}

	for _, figure := range analysis.Figures {
		desc, err := p.describeFigure(ctx, figure)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("describe figure on page %d: %v", figure.PageNumber, err))
			continue
		}
		section := nearestSection(candidates, figure.PageNumber)
		doc := p.buildChunkDocument(sourceName, desc, section, figure.PageNumber, domain.ChunkTypeFigureDescription, ordinal, now)
		if err := p.attach(ctx, result, doc); err != nil {
			return nil, err
		}
		ordinal++
	}

	if len(result.Data.Documents) == 0 {
		return failure("document yielded no indexable content"), nil
	}

	result.Message = fmt.Sprintf("processed %d pages into %d documents", analysis.PageCount, len(result.Data.Documents))
	return result, nil
}

// attach embeds, validates, and appends one document, downgrading per-doc
// embedding failures to recorded errors. An open embedding circuit aborts the
// whole run: every remaining chunk would fail the same way.
func (p *PDFProcessor) attach(ctx context.Context, result *domain.ProcessingResult, doc domain.MotorcycleDocument) error {
	vector, err := p.embedder.Embed(ctx, "", doc.Content)
	switch {
	case err == nil:
		doc.ContentVector = vector
	case domain.KindOf(err) == domain.KindCircuitOpen || errors.Is(err, context.Canceled):
		return fmt.Errorf("embedding unavailable for batch: %w", err)
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("embed document %s: %v", doc.ID, err))
	}

	if err := doc.Validate(p.vectorDim); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("document %s: %v", doc.ID, err))
		return nil
	}
	result.Data.Documents = append(result.Data.Documents, doc)
	return nil
}

func (p *PDFProcessor) buildChunkDocument(sourceName, content, section string, page int, chunkType domain.ChunkType, ordinal int, now time.Time) domain.MotorcycleDocument {
	title := section
	if title == "" {
		title = fmt.Sprintf("%s page %d", sourceName, page)
	}

	pageCopy := page
	seed := sourceName + "|" + string(chunkType) + "|" + section + "|" + strconv.Itoa(page) + "|" + strconv.Itoa(ordinal)
	return domain.MotorcycleDocument{
		ID:         DocumentID(seed),
		Title:      truncateText(title, domain.MaxTitleLength),
		Content:    content,
		Type:       domain.DocumentTypeManual,
		SourceFile: sourceName,
		Section:    section,
		PageNumber: &pageCopy,
		ChunkType:  chunkType,
		Additional: map[string]any{"ordinal": ordinal},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (p *PDFProcessor) describeFigure(ctx context.Context, figure layout.Figure) (string, error) {
	if figure.ImageB64 == "" {
		if figure.Caption != "" {
			return "Figure: " + figure.Caption, nil
		}
		return "", errors.New("figure carries no image or caption")
	}

	prompt := figureDescriptionPrompt
	if figure.Caption != "" {
		prompt += " The original caption reads: " + figure.Caption
	}
	return p.completer.Vision(ctx, p.visionModel, prompt, figure.ImageB64)
}

// textCandidates converts layout paragraphs into structural chunk candidates.
// Headings open a new candidate and set the running section; page breaks also
// force a boundary. Headers, footers, and page numbers are dropped.
func textCandidates(paragraphs []layout.Paragraph) []chunkCandidate {
	var out []chunkCandidate
	var cur *chunkCandidate
	section := ""

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.text) != "" {
			cur.text = strings.TrimSpace(cur.text)
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, para := range paragraphs {
		switch para.Role {
		case layout.RolePageHeader, layout.RolePageFooter, layout.RolePageNumber:
			continue
		case layout.RoleTitle, layout.RoleSectionHeading:
			flush()
			section = strings.TrimSpace(para.Content)
			continue
		}

		if cur != nil && cur.page != para.PageNumber {
			flush()
		}
		if cur == nil {
			cur = &chunkCandidate{section: section, page: para.PageNumber}
		}
		if cur.text != "" {
			cur.text += "\n\n"
		}
		cur.text += para.Content
	}
	flush()

	return out
}

// nearestSection returns the section of the last text candidate on or before
// the page, so tables and figures inherit their surrounding heading.
func nearestSection(candidates []chunkCandidate, page int) string {
	section := ""
	for _, cand := range candidates {
		if cand.page > page {
			break
		}
		section = cand.section
	}
	return section
}

// serializeTable renders a table as tab-separated rows in cell order.
func serializeTable(table layout.Table) string {
	grid := make([][]string, table.RowCount)
	for i := range grid {
		grid[i] = make([]string, table.ColumnCount)
	}
	for _, cell := range table.Cells {
		if cell.RowIndex < table.RowCount && cell.ColumnIndex < table.ColumnCount {
			grid[cell.RowIndex][cell.ColumnIndex] = cell.Content
		}
	}

	var b strings.Builder
	for _, row := range grid {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}
