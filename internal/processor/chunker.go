package processor

import (
	"context"
	"math"
	"strings"

	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

// Token targets for one chunk. Counts are estimated at four characters per
// token, which is close enough for boundary decisions.
const (
	minChunkTokens     = 400
	defaultMaxTokens   = 1200
	charsPerToken      = 4
	similarityTruncate = 1024
)

// chunkCandidate is a contiguous text fragment between structural boundaries.
type chunkCandidate struct {
	text    string
	section string
	page    int
}

// Chunker refines structural chunk candidates using embedding similarity:
// cohesive neighbours merge, oversized chunks split at sentence boundaries.
type Chunker struct {
	embedder       llm.Embedder
	mergeThreshold float64
	splitThreshold float64
	maxTokens      int
	logger         *observability.Logger
}

// NewChunker creates a chunker with the given similarity thresholds.
func NewChunker(embedder llm.Embedder, mergeThreshold, splitThreshold float64, maxTokens int, logger *observability.Logger) *Chunker {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Chunker{
		embedder:       embedder,
		mergeThreshold: mergeThreshold,
		splitThreshold: splitThreshold,
		maxTokens:      maxTokens,
		logger:         logger.WithComponent("chunker"),
	}
}

// Refine merges and splits candidates into final chunks. When embedding is
// unavailable the structural candidates pass through with only the hard
// size limit enforced.
func (c *Chunker) Refine(ctx context.Context, candidates []chunkCandidate) []chunkCandidate {
	if len(candidates) == 0 {
		return nil
	}

	merged := candidates
	vectors, err := c.embedCandidates(ctx, candidates)
	if err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Msg("Similarity refinement skipped, keeping structural boundaries")
	} else {
		merged = c.mergeCohesive(candidates, vectors)
	}

	var out []chunkCandidate
	for _, cand := range merged {
		out = append(out, c.splitOversized(cand)...)
	}
	return out
}

func (c *Chunker) embedCandidates(ctx context.Context, candidates []chunkCandidate) ([][]float32, error) {
	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = truncateText(cand.text, similarityTruncate)
	}
	return c.embedder.EmbedBatch(ctx, "", texts)
}

// mergeCohesive walks adjacent pairs, merging those above the merge threshold
// while the combined size stays under the hard maximum. Same-section pairs
// get a short undersized merge even below the threshold so fragments reach
// the target minimum.
func (c *Chunker) mergeCohesive(candidates []chunkCandidate, vectors [][]float32) []chunkCandidate {
	out := make([]chunkCandidate, 0, len(candidates))
	cur := candidates[0]
	curVec := vectors[0]

	for i := 1; i < len(candidates); i++ {
		next := candidates[i]
		sim := Cosine(curVec, vectors[i])

		combined := estimateTokens(cur.text) + estimateTokens(next.text)
		shouldMerge := sim >= c.mergeThreshold && combined <= c.maxTokens
		if !shouldMerge && sim >= c.splitThreshold && cur.section == next.section &&
			estimateTokens(cur.text) < minChunkTokens && combined <= c.maxTokens {
			shouldMerge = true
		}

		if shouldMerge {
			cur.text = cur.text + "\n\n" + next.text
			curVec = vectors[i]
			continue
		}

		out = append(out, cur)
		cur = next
		curVec = vectors[i]
	}

	return append(out, cur)
}

// splitOversized breaks a chunk exceeding the hard maximum at the sentence
// boundary closest to an even division, recursively until all parts fit.
func (c *Chunker) splitOversized(cand chunkCandidate) []chunkCandidate {
	if estimateTokens(cand.text) <= c.maxTokens {
		return []chunkCandidate{cand}
	}

	left, right, ok := splitAtSentence(cand.text)
	if !ok {
		// No sentence boundary; cut at the character midpoint.
		mid := len(cand.text) / 2
		left, right = cand.text[:mid], cand.text[mid:]
	}

	a := cand
	a.text = strings.TrimSpace(left)
	b := cand
	b.text = strings.TrimSpace(right)
	return append(c.splitOversized(a), c.splitOversized(b)...)
}

// splitAtSentence finds the sentence end nearest the midpoint of the text.
func splitAtSentence(text string) (string, string, bool) {
	mid := len(text) / 2
	best := -1
	bestDist := len(text)

	for i := 0; i < len(text)-1; i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		if text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}
		dist := mid - i
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}

	if best <= 0 || best >= len(text)-2 {
		return "", "", false
	}
	return text[:best+1], text[best+1:], true
}

func estimateTokens(text string) int {
	return len(text) / charsPerToken
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or their dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
