// Package embed wraps a genkit ai.Embedder with normalization,
// dimension-consistency, and concurrency guarantees: inputs are
// NFC-normalized and trailing-whitespace-trimmed before embedding, outputs
// are L2-normalized, batches preserve order, and calls into the (possibly
// non-reentrant) model handle are serialized behind a mutex. A rate
// limiter, independent of that serialization, optionally throttles call
// frequency.
package embed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/koopa0/ragserver/internal/apperr"
)

// Embedder maps text to dense, L2-normalized vectors.
type Embedder struct {
	model   ai.Embedder
	limiter *rate.Limiter

	// callMu serializes calls into model.Embed itself: the limiter only
	// throttles call rate, so with a burst greater than one (or rate.Inf)
	// it lets any number of goroutines into the model handle at once.
	// callMu is the actual non-reentrancy guard.
	callMu sync.Mutex

	mu  sync.Mutex
	dim int // 0 until the first successful embed call fixes it
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithRateLimit bounds the number of embedding calls per second, independent
// of the mutex that serializes access to the model handle itself.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Embedder) {
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New wraps model. With no WithRateLimit option, calls are unthrottled but
// still serialized one at a time (burst=1, effectively infinite rate).
func New(model ai.Embedder, opts ...Option) *Embedder {
	e := &Embedder{model: model, limiter: rate.NewLimiter(rate.Inf, 1)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed embeds a single text and returns its L2-normalized vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, preserving input order in the returned slice.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embedder rate limit: %w", err)
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(normalize(t), nil)
	}

	e.callMu.Lock()
	resp, err := e.model.Embed(ctx, &ai.EmbedRequest{Input: docs})
	e.callMu.Unlock()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedFailed, "embedding call failed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.New(apperr.KindEmbedFailed, "embedder returned a different count than requested")
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		vec := l2Normalize(emb.Embedding)
		if err := e.checkDimension(len(vec)); err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension reports the fixed vector width observed from the model so far,
// or 0 if no embedding call has succeeded yet.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *Embedder) checkDimension(d int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = d
		return nil
	}
	if e.dim != d {
		return apperr.New(apperr.KindDimensionMismatch,
			fmt.Sprintf("embedder produced dimension %d, previously %d", d, e.dim))
	}
	return nil
}

func normalize(text string) string {
	return strings.TrimRight(norm.NFC.String(text), " \t\r\n")
}

func l2Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	magnitude := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / magnitude)
	}
	return out
}
