// Package retrieve implements hybrid candidate retrieval: a vector leg
// and a BM25 lexical leg over the same candidate pool, combined by
// configurable weights, with optional section-aware expansion and
// cloud-then-local collection merging.
package retrieve

import (
	"context"
	"sort"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/classify"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// Embedder is the narrow query-embedding capability the retriever needs
// from internal/embed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the narrow vector store capability the retriever needs
// from internal/vectorstore.
type VectorStore interface {
	VectorSearch(ctx context.Context, collection string, queryVector []float32, filter vectorstore.Filter, k int, withVectors bool) ([]chunk.Chunk, error)
	Scroll(ctx context.Context, collection string, filter vectorstore.Filter, cursor uint64, limit int) (vectorstore.ScrollResult, error)
}

// Weights is the hybrid scoring mix; BM25+Vector should sum to ~1.0.
type Weights struct {
	BM25   float64
	Vector float64
}

// DefaultWeights is the default hybrid mix: 0.3 lexical, 0.7 vector.
var DefaultWeights = Weights{BM25: 0.3, Vector: 0.7}

// Collection names one configured logical index and its store handle.
type Collection struct {
	Name  string // "cloud" or "local", used for provenance
	Store VectorStore
	Label string // the physical collection name passed to the store
}

// Retriever performs hybrid search with section-aware expansion across
// up to two collections (cloud, queried first, then local).
type Retriever struct {
	embedder    Embedder
	cloud       *Collection
	local       *Collection
	weights     Weights
	poolCeiling int
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithWeights overrides the default hybrid scoring weights.
func WithWeights(w Weights) Option {
	return func(r *Retriever) { r.weights = w }
}

// WithPoolCeiling caps the candidate pool size passed on to reranking.
// Defaults to 100.
func WithPoolCeiling(n int) Option {
	return func(r *Retriever) { r.poolCeiling = n }
}

// New builds a Retriever. cloud and/or local may be nil, but at least one
// must be provided.
func New(embedder Embedder, cloud, local *Collection, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, cloud: cloud, local: local, weights: DefaultWeights, poolCeiling: 100}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve runs hybrid search for query using hints from classification,
// returning a deduplicated, scored candidate pool capped at poolCeiling.
func (r *Retriever) Retrieve(ctx context.Context, query string, hints classify.Hints) ([]chunk.Chunk, error) {
	if r.cloud == nil && r.local == nil {
		return nil, apperr.New(apperr.KindConfigError, "retriever has no configured vector store")
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	topK := hints.TopK
	if topK <= 0 {
		topK = 20
	}

	filter := vectorstore.Filter{}
	if hints.RestrictContentType != nil {
		filter.ContentType = hints.RestrictContentType
	}

	pool := map[uint64]chunk.Chunk{}
	if r.cloud != nil {
		if err := r.searchInto(ctx, r.cloud, query, queryVec, filter, topK, pool); err != nil {
			return nil, err
		}
	}
	if r.local != nil && len(pool) < topK {
		if err := r.searchInto(ctx, r.local, query, queryVec, filter, topK, pool); err != nil {
			return nil, err
		}
	}

	if hints.Expand {
		if err := r.expandSections(ctx, pool); err != nil {
			return nil, err
		}
	}

	out := make([]chunk.Chunk, 0, len(pool))
	for _, c := range pool {
		out = append(out, c)
	}
	sortByScoreThenID(out)
	if hints.OrderBySection {
		sortBySectionThenNumericPrefix(out)
	}
	if len(out) > r.poolCeiling {
		out = out[:r.poolCeiling]
	}
	return out, nil
}

// searchInto runs hybrid search against one collection and merges results
// into pool, keeping the higher combined score on a colliding id.
func (r *Retriever) searchInto(ctx context.Context, col *Collection, query string, queryVec []float32, filter vectorstore.Filter, topK int, pool map[uint64]chunk.Chunk) error {
	candidates, err := col.Store.VectorSearch(ctx, col.Label, queryVec, filter, topK*2, false)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	vectorScores := make([]float64, len(candidates))
	contents := make([]string, len(candidates))
	for i, c := range candidates {
		vectorScores[i] = c.Score
		contents[i] = c.Content
	}
	normVector := minMaxNormalize(vectorScores)

	weights := r.weights
	bm25Raw := bm25Scores(query, contents)
	hasLexical := false
	for _, v := range bm25Raw {
		if v > 0 {
			hasLexical = true
			break
		}
	}
	var normBM25 []float64
	if hasLexical {
		normBM25 = minMaxNormalize(bm25Raw)
	} else {
		weights = Weights{Vector: 1.0}
	}

	for i, c := range candidates {
		combined := weights.Vector * normVector[i]
		if normBM25 != nil {
			combined += weights.BM25 * normBM25[i]
		}
		c.Collection = col.Name
		c.Score = combined
		if existing, ok := pool[c.ID]; !ok || combined > existing.Score {
			pool[c.ID] = c
		}
	}
	return nil
}

// expandSections issues a scroll per distinct (file_path, section) pair
// present in pool, adding every chunk found to the pool with the pool's
// median score standing in for chunks that weren't independently scored.
func (r *Retriever) expandSections(ctx context.Context, pool map[uint64]chunk.Chunk) error {
	type key struct{ filePath, section string }
	seen := map[key]bool{}
	var scores []float64
	for _, c := range pool {
		scores = append(scores, c.Score)
		if c.Section == "" {
			continue
		}
		seen[key{c.FilePath, c.Section}] = true
	}
	neutral := median(scores)

	for k := range seen {
		filePath, section := k.filePath, k.section
		col := r.cloud
		chunks, err := expandOne(ctx, col, filePath, section)
		if err != nil || len(chunks) == 0 {
			if r.local != nil {
				chunks, _ = expandOne(ctx, r.local, filePath, section)
			}
		}
		for _, c := range chunks {
			if _, ok := pool[c.ID]; ok {
				continue
			}
			c.Score = neutral
			pool[c.ID] = c
		}
	}
	return nil
}

func expandOne(ctx context.Context, col *Collection, filePath, section string) ([]chunk.Chunk, error) {
	if col == nil {
		return nil, nil
	}
	filter := vectorstore.Filter{FilePath: &filePath, Section: &section}
	result, err := col.Store.Scroll(ctx, col.Label, filter, 0, 1000)
	if err != nil {
		return nil, err
	}
	for i := range result.Chunks {
		result.Chunks[i].Collection = col.Name
	}
	return result.Chunks, nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func sortByScoreThenID(chunks []chunk.Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
}

func sortBySectionThenNumericPrefix(chunks []chunk.Chunk) {
	// prefix is the N of content starting with "N."; 0 when there is none.
	prefix := func(s string) int {
		n, i := 0, 0
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			n = n*10 + int(s[i]-'0')
		}
		if i == 0 || i == len(s) || s[i] != '.' {
			return 0
		}
		return n
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Section != chunks[j].Section {
			return chunks[i].Section < chunks[j].Section
		}
		if pi, pj := prefix(chunks[i].Content), prefix(chunks[j].Content); pi != pj {
			return pi < pj
		}
		return chunks[i].LineStart < chunks[j].LineStart
	})
}
