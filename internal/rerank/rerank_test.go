package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/koopa0/ragserver/internal/chunk"
)

func candidates() []chunk.Chunk {
	return []chunk.Chunk{
		{ID: 1, Content: "alpha", Score: 0.5},
		{ID: 2, Content: "beta", Score: 0.9},
		{ID: 3, Content: "gamma", Score: 0.7},
	}
}

func TestRerank_EmptyPoolReturnsEmpty(t *testing.T) {
	r := New(func(ctx context.Context, query string, c []chunk.Chunk) ([]float64, error) {
		t.Fatal("score function should not be called for an empty pool")
		return nil, nil
	})
	out, err := r.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}

func TestRerank_OrdersByFreshScore(t *testing.T) {
	r := New(func(ctx context.Context, query string, c []chunk.Chunk) ([]float64, error) {
		// Invert incoming score order so we can tell the fresh score was used.
		return []float64{0.1, 0.2, 0.9}, nil
	}, WithTopK(10))
	out, err := r.Rerank(context.Background(), "q", candidates())
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if out[0].ID != 3 {
		t.Errorf("expected chunk 3 (highest fresh score) first, got %d", out[0].ID)
	}
}

func TestRerank_TruncatesToTopK(t *testing.T) {
	r := New(func(ctx context.Context, query string, c []chunk.Chunk) ([]float64, error) {
		return []float64{0.1, 0.5, 0.9}, nil
	}, WithTopK(2))
	out, err := r.Rerank(context.Background(), "q", candidates())
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}

func TestRerank_BypassPreservesIncomingOrder(t *testing.T) {
	r := New(func(ctx context.Context, query string, c []chunk.Chunk) ([]float64, error) {
		t.Fatal("score function should not be called when bypassed")
		return nil, nil
	}, WithBypass(true), WithTopK(2))
	out, err := r.Rerank(context.Background(), "q", candidates())
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if len(out) != 2 || out[0].ID != 1 || out[1].ID != 2 {
		t.Errorf("expected bypass to keep the first 2 in incoming order, got %+v", out)
	}
}

func TestRerank_ScoreFailureFallsBackToVectorScore(t *testing.T) {
	r := New(func(ctx context.Context, query string, c []chunk.Chunk) ([]float64, error) {
		return nil, errors.New("cross-encoder unavailable")
	}, WithTopK(10))
	out, err := r.Rerank(context.Background(), "q", candidates())
	if err != nil {
		t.Fatalf("Rerank() should not propagate scoring failure, got: %v", err)
	}
	if out[0].ID != 2 {
		t.Errorf("expected fallback ordering by original score (chunk 2 highest), got %d", out[0].ID)
	}
}
