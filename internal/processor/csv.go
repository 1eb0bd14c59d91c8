// Package processor turns source files into indexable documents: CSV
// specification sheets and PDF manuals.
package processor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

// Identifier columns that define one motorcycle across spec rows.
var relationalKeyColumns = []string{"make", "model", "year"}

// CSVProcessor parses delimited specification files and emits one document
// per chunk of rows.
type CSVProcessor struct {
	embedder  llm.Embedder
	cfg       config.IngestionConfig
	vectorDim int
	logger    *observability.Logger
}

// NewCSVProcessor creates a CSV processor. vectorDim is the dimension the
// target index schema declares.
func NewCSVProcessor(embedder llm.Embedder, cfg config.IngestionConfig, vectorDim int, logger *observability.Logger) *CSVProcessor {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}
	if cfg.MaxColumns <= 0 {
		cfg.MaxColumns = 150
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}

	return &CSVProcessor{
		embedder:  embedder,
		cfg:       cfg,
		vectorDim: vectorDim,
		logger:    logger.WithComponent("csv-processor"),
	}
}

// Process parses the CSV stream and returns the processed batch. Malformed
// rows are skipped and reported; the run fails only when nothing parseable
// remains or a structural limit is exceeded.
func (p *CSVProcessor) Process(ctx context.Context, sourceName string, r io.Reader) (*domain.ProcessingResult, error) {
	reader := csv.NewReader(r)
	if d := p.cfg.CSVDelimiter; d != "" {
		reader.Comma = rune(d[0])
	}
	reader.FieldsPerRecord = -1

	header, rows, skipped, err := p.parse(reader)
	if err != nil {
		return failure(err.Error()), nil
	}

	if len(header) > p.cfg.MaxColumns {
		return failure(fmt.Sprintf("csv has %d columns, exceeding the maximum of %d", len(header), p.cfg.MaxColumns)), nil
	}

	if len(rows) == 0 {
		if len(skipped) > 0 {
			result := failure("all rows are malformed")
			result.Errors = skipped
			return result, nil
		}
		return failure("csv contains no data rows"), nil
	}

	if len(rows) > p.cfg.MaxRows {
		p.logger.WithContext(ctx).Warn().
			Str("source", sourceName).
			Int("rows", len(rows)).
			Int("max_rows", p.cfg.MaxRows).
			Msg("Row count exceeds limit, truncating")
		rows = rows[:p.cfg.MaxRows]
	}

	var chunks []rowChunk
	if p.cfg.PreserveRelational {
		chunks = groupByRelationalKey(header, rows)
	}
	if chunks == nil {
		chunks = fixedSizeChunks(rows, p.cfg.ChunkSize)
	}

	result := &domain.ProcessingResult{
		Success: true,
		Data: &domain.ProcessedData{
			BatchID: uuid.NewString(),
			Metadata: map[string]any{
				"source_file": sourceName,
				"columns":     header,
				"row_count":   len(rows),
				"skipped":     len(skipped),
			},
		},
		Errors: skipped,
	}

	now := time.Now().UTC()
	for i, chunk := range chunks {
		doc := p.buildDocument(sourceName, header, chunk, i, now)

		vector, err := p.embedder.Embed(ctx, "", doc.Content)
		switch {
		case err == nil:
			doc.ContentVector = vector
		case domain.KindOf(err) == domain.KindCircuitOpen || errors.Is(err, context.Canceled):
			return nil, fmt.Errorf("embedding unavailable for batch: %w", err)
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("embed document %s: %v", doc.ID, err))
			p.logger.WithContext(ctx).Warn().Err(err).Str("document_id", doc.ID).Msg("Embedding failed, emitting without vector")
		}

		if err := doc.Validate(p.vectorDim); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("document %s: %v", doc.ID, err))
			continue
		}
		result.Data.Documents = append(result.Data.Documents, doc)
	}

	result.Message = fmt.Sprintf("processed %d rows into %d documents", len(rows), len(result.Data.Documents))
	return result, nil
}

// parse reads the header and all data rows, skipping rows whose column count
// does not match the header.
func (p *CSVProcessor) parse(reader *csv.Reader) (header []string, rows [][]string, skipped []string, err error) {
	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read csv: %w", err)
	}

	if p.cfg.CSVHasHeader {
		header = first
	} else {
		header = make([]string, len(first))
		for i := range first {
			header[i] = "Column" + strconv.Itoa(i+1)
		}
		rows = append(rows, first)
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(record) != len(header) {
			skipped = append(skipped, fmt.Sprintf("line %d: expected %d columns, got %d", line, len(header), len(record)))
			continue
		}
		rows = append(rows, record)
	}

	return header, rows, skipped, nil
}

type rowChunk struct {
	key      string
	firstRow int
	rows     [][]string
}

// groupByRelationalKey groups rows by the identifier tuple. Returns nil when
// none of the identifier columns exist, in which case the caller falls back
// to fixed-size chunking.
func groupByRelationalKey(header []string, rows [][]string) []rowChunk {
	var keyIdx []int
	for _, name := range relationalKeyColumns {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), name) {
				keyIdx = append(keyIdx, i)
				break
			}
		}
	}
	if len(keyIdx) == 0 {
		return nil
	}

	order := make([]string, 0)
	groups := make(map[string]*rowChunk)
	for rowNum, row := range rows {
		parts := make([]string, len(keyIdx))
		for i, idx := range keyIdx {
			parts[i] = strings.TrimSpace(row[idx])
		}
		key := strings.Join(parts, " ")

		g, ok := groups[key]
		if !ok {
			g = &rowChunk{key: key, firstRow: rowNum}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, row)
	}

	chunks := make([]rowChunk, 0, len(order))
	for _, key := range order {
		chunks = append(chunks, *groups[key])
	}
	return chunks
}

func fixedSizeChunks(rows [][]string, size int) []rowChunk {
	var chunks []rowChunk
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rowChunk{firstRow: start, rows: rows[start:end]})
	}
	return chunks
}

// buildDocument serializes one chunk as key: value lines, preserving column
// order, and derives a deterministic id so re-ingestion upserts in place.
func (p *CSVProcessor) buildDocument(sourceName string, header []string, chunk rowChunk, chunkIndex int, now time.Time) domain.MotorcycleDocument {
	var b strings.Builder
	for i, row := range chunk.rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, col := range header {
			b.WriteString(col)
			b.WriteString(": ")
			b.WriteString(row[j])
			b.WriteByte('\n')
		}
	}

	title := chunk.key
	if title == "" {
		title = fmt.Sprintf("%s rows %d-%d", sourceName, chunk.firstRow+1, chunk.firstRow+len(chunk.rows))
	}

	idSeed := sourceName + "|" + title
	doc := domain.MotorcycleDocument{
		ID:         DocumentID(idSeed),
		Title:      title,
		Content:    b.String(),
		Type:       domain.DocumentTypeSpecification,
		SourceFile: sourceName,
		Additional: map[string]any{
			"chunk_index": chunkIndex,
			"row_start":   chunk.firstRow + 1,
			"row_count":   len(chunk.rows),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Promote identifier fields when the chunk is a relational group.
	if chunk.key != "" {
		setRelationalFields(&doc, header, chunk.rows[0])
	}
	return doc
}

func setRelationalFields(doc *domain.MotorcycleDocument, header []string, row []string) {
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "make":
			doc.Additional["make"] = row[i]
		case "model":
			doc.Additional["model"] = row[i]
		case "year":
			if year, err := strconv.Atoi(strings.TrimSpace(row[i])); err == nil {
				doc.Additional["year"] = year
			}
		}
	}
}

// DocumentID derives a stable id from the source identity so the same input
// always maps to the same index document.
func DocumentID(seed string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ridewise:"+seed)).String()
}

func failure(message string) *domain.ProcessingResult {
	return &domain.ProcessingResult{Success: false, Message: message}
}
