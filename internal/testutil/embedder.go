package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder is a deterministic ai.Embedder for tests: the same input text
// always produces the same unit vector, with no network calls and no API
// key. The embedding model runtime is an external interface boundary
// (internal/embed wraps whatever ai.Embedder it is given); tests only need
// embeddings stable across repeated calls and distinguishable across
// different text.
//
// SHA-256 seeded and L2-normalized, as a bare ai.Embedder implementation so
// tests don't need a live genkit.Genkit registration.
type FakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewFakeEmbedder creates a fake embedder producing vectors of the given
// dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a given content string, for
// tests that need precise control over cosine similarity between inputs.
func (e *FakeEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// Name implements ai.Embedder.
func (e *FakeEmbedder) Name() string {
	return "testutil/fake-embedder"
}

// Register implements ai.Embedder. The fake embedder is used directly in
// tests without a genkit registry, so there is nothing to register.
func (e *FakeEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (e *FakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *FakeEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()
	return deterministicVector(content, e.dim)
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector generates a normalized vector from content using
// SHA-256. The same content always produces the same vector.
func deterministicVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
