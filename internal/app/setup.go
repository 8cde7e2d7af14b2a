package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	ragdb "github.com/koopa0/ragserver/db"
	"github.com/koopa0/ragserver/internal/config"
	"github.com/koopa0/ragserver/internal/embed"
	"github.com/koopa0/ragserver/internal/index"
	"github.com/koopa0/ragserver/internal/manifest"
	"github.com/koopa0/ragserver/internal/mcptools"
	"github.com/koopa0/ragserver/internal/rerank"
	"github.com/koopa0/ragserver/internal/retrieve"
	"github.com/koopa0/ragserver/internal/security"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// Setup builds a fully wired App from cfg: it initializes genkit with the
// configured embedding provider, migrates and connects every configured
// vector store, and assembles the retrieval pipeline and MCP server on
// top of them. On any error, everything already initialized is torn down
// before Setup returns.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := slog.Default()
	a := &App{Config: cfg, logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, embedder, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding provider: %w", err)
	}
	a.Genkit = g
	a.Embedder = embed.New(embedder, embed.WithRateLimit(5, 10))

	// Fix the embedder's output dimension before any EnsureCollection call
	// by running one throwaway embed.
	if _, err := a.Embedder.Embed(ctx, "ragserver startup warmup"); err != nil {
		return nil, fmt.Errorf("warming up embedder: %w", err)
	}
	dim := a.Embedder.Dimension()

	if cfg.CloudStore != nil {
		pool, store, err := provideStore(ctx, cfg.CloudStore, dim)
		if err != nil {
			return nil, fmt.Errorf("provisioning cloud vector store: %w", err)
		}
		a.CloudPool, a.CloudStore = pool, store
	}
	if cfg.LocalStore != nil {
		if cfg.CloudStore != nil && cfg.LocalStore.URL == cfg.CloudStore.URL {
			a.LocalPool, a.LocalStore = a.CloudPool, a.CloudStore
			if err := a.CloudStore.EnsureCollection(ctx, cfg.LocalStore.Collection, dim); err != nil {
				return nil, fmt.Errorf("ensuring local collection: %w", err)
			}
		} else {
			pool, store, err := provideStore(ctx, cfg.LocalStore, dim)
			if err != nil {
				return nil, fmt.Errorf("provisioning local vector store: %w", err)
			}
			a.LocalPool, a.LocalStore = pool, store
		}
	}
	if a.CloudStore != nil {
		a.PrimaryStore = a.CloudStore
	} else {
		a.PrimaryStore = a.LocalStore
	}

	pathValidator, err := security.NewPath([]string{cfg.ProjectRoot})
	if err != nil {
		return nil, fmt.Errorf("building path validator: %w", err)
	}
	a.PathValidator = pathValidator

	if a.CloudStore != nil {
		a.CloudIndexer = index.New(a.CloudStore, a.Embedder, cfg.ProjectRoot, cfg.ExcludePatterns,
			index.WithLockDir(indexLockDir()))
	}
	if a.LocalStore != nil && a.LocalStore != a.CloudStore {
		a.LocalIndexer = index.New(a.LocalStore, a.Embedder, cfg.ProjectRoot, cfg.ExcludePatterns,
			index.WithLockDir(indexLockDir()))
	} else if a.LocalStore != nil {
		a.LocalIndexer = a.CloudIndexer
	}

	var cloudCol, localCol *retrieve.Collection
	if a.CloudStore != nil {
		cloudCol = &retrieve.Collection{Name: "cloud", Store: a.CloudStore, Label: cfg.CloudStore.Collection}
	}
	if a.LocalStore != nil {
		localCol = &retrieve.Collection{Name: "local", Store: a.LocalStore, Label: cfg.LocalStore.Collection}
	}
	a.Retriever = retrieve.New(a.Embedder, cloudCol, localCol,
		retrieve.WithWeights(retrieve.Weights{
			BM25:   cfg.HybridRetrieval.HybridWeights.BM25,
			Vector: cfg.HybridRetrieval.HybridWeights.Vector,
		}),
		retrieve.WithPoolCeiling(cfg.HybridRetrieval.SearchTopK*5))

	a.Reranker = provideReranker(cfg)
	a.Manifest = manifest.New(logger)

	collections := map[string]string{}
	defaultCollection := ""
	if cfg.CloudStore != nil {
		collections["cloud"] = cfg.CloudStore.Collection
		defaultCollection = "cloud"
	}
	if cfg.LocalStore != nil {
		collections["local"] = cfg.LocalStore.Collection
		if defaultCollection == "" {
			defaultCollection = "local"
		}
	}
	primaryIndexer := a.CloudIndexer
	if primaryIndexer == nil {
		primaryIndexer = a.LocalIndexer
	}

	mcpServer, err := mcptools.NewServer(mcptools.Config{
		Name:              cfg.ServerName,
		Version:           serverVersion,
		Retriever:         a.Retriever,
		Reranker:          a.Reranker,
		Indexer:           primaryIndexer,
		Store:             a.PrimaryStore,
		Manifest:          a.Manifest,
		Collections:       collections,
		DefaultCollection: defaultCollection,
		QueryTimeout:      30 * time.Second,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building MCP server: %w", err)
	}
	a.MCPServer = mcpServer

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// serverVersion is ragserver's own release identifier, independent of any
// upstream provider's model or API version.
const serverVersion = "0.1.0"

// provideGenkit initializes genkit with the configured embedding provider
// and returns the ai.Embedder it registers. Supports gemini (default),
// ollama, and openai, mirroring the provider switch used elsewhere in this
// codebase for chat models.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbeddingModels.Doc, nil)
		emb := ollama.Embedder(g, cfg.OllamaHost)
		if emb == nil {
			return nil, nil, fmt.Errorf("embedder %q not registered for ollama provider", cfg.EmbeddingModels.Doc)
		}
		slog.Info("initialized genkit with ollama provider", "model", cfg.EmbeddingModels.Doc, "host", cfg.OllamaHost)
		return g, emb, nil

	case config.ProviderOpenAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with openai provider")
		}
		emb := genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbeddingModels.Doc))
		if emb == nil {
			return nil, nil, fmt.Errorf("embedder %q not registered for openai provider", cfg.EmbeddingModels.Doc)
		}
		slog.Info("initialized genkit with openai provider", "model", cfg.EmbeddingModels.Doc)
		return g, emb, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		emb := googlegenai.GoogleAIEmbedder(g, cfg.EmbeddingModels.Doc)
		if emb == nil {
			return nil, nil, fmt.Errorf("embedder %q not registered for gemini provider", cfg.EmbeddingModels.Doc)
		}
		slog.Info("initialized genkit with gemini provider", "model", cfg.EmbeddingModels.Doc)
		return g, emb, nil
	}
}

// provideStore runs migrations against storeCfg's database, opens a pool
// via vectorstore.Connect, and ensures storeCfg's collection exists at dim
// dimensions.
func provideStore(ctx context.Context, storeCfg *config.VectorStoreConfig, dim int) (*pgxpool.Pool, *vectorstore.Store, error) {
	if err := ragdb.Migrate(storeCfg.URL); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := vectorstore.Connect(ctx, storeCfg.URL)
	if err != nil {
		return nil, nil, err
	}

	store := vectorstore.New(pool)
	if err := store.EnsureCollection(ctx, storeCfg.Collection, dim); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensuring collection %q: %w", storeCfg.Collection, err)
	}

	return pool, store, nil
}

// provideReranker wires a cross-encoder rerank client when configured,
// falling back to a bypass reranker (incoming hybrid order, truncated)
// otherwise.
func provideReranker(cfg *config.Config) *rerank.Reranker {
	topK := cfg.HybridRetrieval.RerankTopK
	if cfg.BypassReranker || cfg.RerankerEndpoint == "" {
		return rerank.New(nil, rerank.WithBypass(true), rerank.WithTopK(topK))
	}
	client := rerank.NewCohereClient(cfg.RerankerEndpoint, cfg.EmbeddingModels.Reranking, cfg.RerankerAPIKey, 10*time.Second)
	return rerank.New(client.Score, rerank.WithTopK(topK))
}

// indexLockDir returns a directory for the indexer's per-collection
// advisory lock files, preferring the OS temp dir.
func indexLockDir() string {
	dir := filepath.Join(os.TempDir(), "ragserver-index-locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir()
	}
	return dir
}
