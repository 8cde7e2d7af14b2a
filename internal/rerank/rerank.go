// Package rerank rescales a retrieved candidate pool with a cross-encoder
// style scoring function, returning the top results in descending score
// order.
package rerank

import (
	"context"
	"sort"

	"github.com/koopa0/ragserver/internal/chunk"
)

// ScoreFunc scores a (query, chunk) pair; higher is more relevant. The
// concrete cross-encoder runtime is an external dependency the caller
// supplies — Reranker only orchestrates scoring and ordering.
type ScoreFunc func(ctx context.Context, query string, candidates []chunk.Chunk) ([]float64, error)

// Reranker reorders a candidate pool by fresh per-query relevance scores.
type Reranker struct {
	score  ScoreFunc
	bypass bool
	topK   int
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithBypass disables rescoring; Rerank then just truncates the pool to
// topK in its incoming order (used for deterministic tests and for
// configurations that don't want the extra scoring latency).
func WithBypass(bypass bool) Option {
	return func(r *Reranker) { r.bypass = bypass }
}

// WithTopK overrides the default top-10 result count.
func WithTopK(n int) Option {
	return func(r *Reranker) { r.topK = n }
}

// New builds a Reranker around score.
func New(score ScoreFunc, opts ...Option) *Reranker {
	r := &Reranker{score: score, topK: 10}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores candidates against query and returns the top topK in
// descending score order. An empty pool returns an empty slice, never an
// error.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []chunk.Chunk) ([]chunk.Chunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	if r.bypass {
		return truncate(candidates, r.topK), nil
	}

	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		// Fall back to the incoming (vector/hybrid) score ordering rather
		// than failing the whole query.
		ranked := append([]chunk.Chunk(nil), candidates...)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		return truncate(ranked, r.topK), nil
	}

	ranked := make([]chunk.Chunk, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		if i < len(scores) {
			ranked[i].Score = scores[i]
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return truncate(ranked, r.topK), nil
}

func truncate(chunks []chunk.Chunk, topK int) []chunk.Chunk {
	if topK <= 0 || topK >= len(chunks) {
		return chunks
	}
	return chunks[:topK]
}
