// Package config loads ragserver's configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (QDRANT_CLOUD_URL, QDRANT_API_KEY, QDRANT_COLLECTION,
//     MCP_PROJECT_ROOT, MCP_CONFIG_FILE, MCP_SERVER_NAME)
//  2. The JSON config file (path from MCP_CONFIG_FILE, default ./ragserver.config.json)
//  3. Default values
//
// Config is loaded once per process; there is no hot reload. Restart the
// process to pick up file or environment changes; there is no hot reload.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingProjectRoot indicates project_root was not set.
	ErrMissingProjectRoot = errors.New("missing project_root")

	// ErrNoVectorStore indicates neither cloud_qdrant nor local_qdrant is configured.
	ErrNoVectorStore = errors.New("no vector store configured: set cloud_qdrant and/or local_qdrant")

	// ErrEmbeddingDimensionMismatch indicates doc and code embedding models
	// were configured with different vector dimensions. A collection holds a
	// single vector dimension, so doc and code must agree.
	ErrEmbeddingDimensionMismatch = errors.New("embedding_models.doc and embedding_models.code must resolve to the same vector dimension")

	// ErrInvalidHybridWeights indicates hybrid_weights.bm25 + hybrid_weights.vector
	// is not within tolerance of 1.0.
	ErrInvalidHybridWeights = errors.New("hybrid_weights must sum to 1.0")

	// ErrInvalidChunkSize indicates a non-positive chunking size or overlap.
	ErrInvalidChunkSize = errors.New("invalid chunking size or overlap")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid embedding provider")
)

// Embedding provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// VectorStoreConfig names one logical index's connection parameters. The
// concrete adapter (internal/vectorstore) treats URL as a Postgres DSN and
// APIKey as an optional credential folded into that DSN rather than a
// separate bearer token.
type VectorStoreConfig struct {
	URL           string        `mapstructure:"url" json:"url"`
	APIKey        string        `mapstructure:"api_key" json:"api_key,omitempty"`
	Collection    string        `mapstructure:"collection" json:"collection"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
}

// EmbeddingModelsConfig names the embedding models used for each content
// family. doc and code must resolve to the same vector dimension, since
// both are stored in the same collection.
type EmbeddingModelsConfig struct {
	Doc       string `mapstructure:"doc" json:"doc"`
	Code      string `mapstructure:"code" json:"code"`
	Reranking string `mapstructure:"reranking" json:"reranking"`
}

// HybridWeights holds the vector/lexical combined-score weights.
type HybridWeights struct {
	BM25   float64 `mapstructure:"bm25" json:"bm25"`
	Vector float64 `mapstructure:"vector" json:"vector"`
}

// HybridRetrievalConfig configures retrieval and reranking.
type HybridRetrievalConfig struct {
	SearchTopK    int           `mapstructure:"search_top_k" json:"search_top_k"`
	RerankTopK    int           `mapstructure:"rerank_top_k" json:"rerank_top_k"`
	MaxResults    int           `mapstructure:"max_results" json:"max_results"`
	HybridWeights HybridWeights `mapstructure:"hybrid_weights" json:"hybrid_weights"`
}

// ChunkingConfig configures document and code chunking.
type ChunkingConfig struct {
	DocChunkSize      int    `mapstructure:"doc_chunk_size" json:"doc_chunk_size"`
	DocChunkOverlap   int    `mapstructure:"doc_chunk_overlap" json:"doc_chunk_overlap"`
	CodeChunkStrategy string `mapstructure:"code_chunk_strategy" json:"code_chunk_strategy"`
	CodeChunkOverlap  int    `mapstructure:"code_chunk_overlap" json:"code_chunk_overlap"`
}

// Config is ragserver's full configuration.
type Config struct {
	ProjectRoot string `mapstructure:"project_root" json:"project_root"`

	// Provider selects the embedding backend registered with genkit:
	// "gemini" (default), "ollama", or "openai". OllamaHost is only
	// consulted when Provider is "ollama".
	Provider   string `mapstructure:"provider" json:"provider"`
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host,omitempty"`

	CloudStore *VectorStoreConfig `mapstructure:"cloud_qdrant" json:"cloud_qdrant,omitempty"`
	LocalStore *VectorStoreConfig `mapstructure:"local_qdrant" json:"local_qdrant,omitempty"`

	CloudDocs []string `mapstructure:"cloud_docs" json:"cloud_docs"`
	LocalDocs []string `mapstructure:"local_docs" json:"local_docs"`
	CodePaths []string `mapstructure:"code_paths" json:"code_paths"`

	EmbeddingModels  EmbeddingModelsConfig `mapstructure:"embedding_models" json:"embedding_models"`
	HybridRetrieval  HybridRetrievalConfig `mapstructure:"hybrid_retrieval" json:"hybrid_retrieval"`
	Chunking         ChunkingConfig        `mapstructure:"chunking" json:"chunking"`
	ExcludePatterns  []string              `mapstructure:"exclude_patterns" json:"exclude_patterns"`
	DocTypeMapping   map[string]string     `mapstructure:"doc_type_mapping" json:"doc_type_mapping,omitempty"`
	ServerName       string                `mapstructure:"server_name" json:"server_name,omitempty"`
	BypassReranker   bool                  `mapstructure:"bypass_reranker" json:"bypass_reranker,omitempty"`

	// RerankerEndpoint, when set, points at a Cohere-compatible rerank
	// service; the reranking model in EmbeddingModelsConfig.Reranking is
	// sent as the request's model field. RerankerAPIKey comes from
	// RERANKER_API_KEY only, never the config file.
	RerankerEndpoint string `mapstructure:"reranker_endpoint" json:"reranker_endpoint,omitempty"`
	RerankerAPIKey   string `mapstructure:"-" json:"-"`
}

// Load reads the config file named by MCP_CONFIG_FILE (default
// ./ragserver.config.json), applies defaults, overlays the documented
// environment variables, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	configFile := os.Getenv("MCP_CONFIG_FILE")
	if configFile == "" {
		configFile = "ragserver.config.json"
	}
	v.SetConfigFile(configFile)

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %q: %w", configFile, err)
		}
		slog.Debug("config file not found, using defaults and environment", "path", configFile)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if root := os.Getenv("MCP_PROJECT_ROOT"); root != "" {
		cfg.ProjectRoot = root
	}
	if name := os.Getenv("MCP_SERVER_NAME"); name != "" {
		cfg.ServerName = name
	}
	cfg.RerankerAPIKey = os.Getenv("RERANKER_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedding_models.doc", "text-embedding-3-small")
	v.SetDefault("embedding_models.code", "text-embedding-3-small")
	v.SetDefault("embedding_models.reranking", "cross-encoder/ms-marco-MiniLM-L-6-v2")

	v.SetDefault("hybrid_retrieval.search_top_k", 20)
	v.SetDefault("hybrid_retrieval.rerank_top_k", 10)
	v.SetDefault("hybrid_retrieval.max_results", 10)
	v.SetDefault("hybrid_retrieval.hybrid_weights.bm25", 0.3)
	v.SetDefault("hybrid_retrieval.hybrid_weights.vector", 0.7)

	v.SetDefault("chunking.doc_chunk_size", 1000)
	v.SetDefault("chunking.doc_chunk_overlap", 100)
	v.SetDefault("chunking.code_chunk_strategy", "function")
	v.SetDefault("chunking.code_chunk_overlap", 0)

	v.SetDefault("server_name", "ragserver")

	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("ollama_host", "http://localhost:11434")
}

func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("cloud_qdrant.url", "QDRANT_CLOUD_URL")
	mustBind("cloud_qdrant.api_key", "QDRANT_API_KEY")
	mustBind("cloud_qdrant.collection", "QDRANT_COLLECTION")
}

// String implements Stringer, masking API keys to keep them out of logs.
func (c Config) String() string {
	type alias Config
	a := alias(c)
	if a.CloudStore != nil {
		masked := *a.CloudStore
		masked.APIKey = maskSecret(masked.APIKey)
		a.CloudStore = &masked
	}
	if a.LocalStore != nil {
		masked := *a.LocalStore
		masked.APIKey = maskSecret(masked.APIKey)
		a.LocalStore = &masked
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}
