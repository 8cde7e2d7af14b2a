package config

import "fmt"

// Validate validates configuration values. Returns sentinel errors checkable
// with errors.Is(). A validation failure here is a CONFIG_ERROR:
// the process must exit, never start half-configured.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ProjectRoot == "" {
		return ErrMissingProjectRoot
	}

	switch c.Provider {
	case "", ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}
	if c.Provider == ProviderOllama && c.OllamaHost == "" {
		return fmt.Errorf("ollama_host must be set when provider is %q", ProviderOllama)
	}

	if c.CloudStore == nil && c.LocalStore == nil {
		return ErrNoVectorStore
	}

	for name, store := range map[string]*VectorStoreConfig{"cloud_qdrant": c.CloudStore, "local_qdrant": c.LocalStore} {
		if store == nil {
			continue
		}
		if store.Collection == "" {
			return fmt.Errorf("%s.collection must not be empty", name)
		}
		if store.RetryAttempts < 0 {
			return fmt.Errorf("%s.retry_attempts must be >= 0", name)
		}
	}

	if c.EmbeddingModels.Doc == "" || c.EmbeddingModels.Code == "" {
		return fmt.Errorf("embedding_models.doc and embedding_models.code must both be set")
	}
	// The embedding runtime itself is an external interface, not owned here; a
	// process-level dimension mismatch can only be detected once the
	// embedder reports its output size, which internal/embed does at
	// startup. This check catches the common mistake of naming two
	// obviously different model families up front.
	if c.EmbeddingModels.Doc != c.EmbeddingModels.Code {
		return fmt.Errorf("%w: doc=%q code=%q", ErrEmbeddingDimensionMismatch, c.EmbeddingModels.Doc, c.EmbeddingModels.Code)
	}

	w := c.HybridRetrieval.HybridWeights
	sum := w.BM25 + w.Vector
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("%w: bm25=%.2f vector=%.2f sums to %.2f", ErrInvalidHybridWeights, w.BM25, w.Vector, sum)
	}

	if c.HybridRetrieval.SearchTopK <= 0 {
		return fmt.Errorf("hybrid_retrieval.search_top_k must be > 0")
	}
	if c.HybridRetrieval.RerankTopK <= 0 {
		return fmt.Errorf("hybrid_retrieval.rerank_top_k must be > 0")
	}

	if c.Chunking.DocChunkSize <= 0 || c.Chunking.DocChunkOverlap < 0 {
		return ErrInvalidChunkSize
	}
	if c.Chunking.DocChunkOverlap >= c.Chunking.DocChunkSize {
		return fmt.Errorf("%w: doc_chunk_overlap must be smaller than doc_chunk_size", ErrInvalidChunkSize)
	}

	return nil
}
