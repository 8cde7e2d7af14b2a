package embed

import (
	"context"
	"math"
	"testing"

	"github.com/koopa0/ragserver/internal/testutil"
)

func TestEmbed_L2Normalized(t *testing.T) {
	e := New(testutil.NewFakeEmbedder(16))
	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	var sumSquares float64
	for _, x := range vec {
		sumSquares += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sumSquares)-1.0) > 1e-4 {
		t.Errorf("expected unit-length vector, got magnitude %f", math.Sqrt(sumSquares))
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	e := New(testutil.NewFakeEmbedder(16))
	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	// Re-embedding "alpha" alone must match its vector from the batch,
	// proving batch order lines up with input order.
	single, err := e.Embed(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for i := range single {
		if single[i] != vecs[0][i] {
			t.Fatalf("batch position 0 does not match standalone embedding of %q", texts[0])
		}
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	e := New(testutil.NewFakeEmbedder(16))
	a, err := e.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	b, err := e.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical vectors for identical text")
		}
	}
}

func TestEmbed_TrimsTrailingWhitespaceBeforeHashing(t *testing.T) {
	e := New(testutil.NewFakeEmbedder(16))
	a, err := e.Embed(context.Background(), "padded text   \n")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	b, err := e.Embed(context.Background(), "padded text")
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected trailing-whitespace-trimmed text to embed identically")
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := New(testutil.NewFakeEmbedder(16))
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil result for empty input, got %v", vecs)
	}
}
