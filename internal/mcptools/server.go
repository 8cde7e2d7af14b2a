package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/index"
	"github.com/koopa0/ragserver/internal/manifest"
	"github.com/koopa0/ragserver/internal/rerank"
	"github.com/koopa0/ragserver/internal/retrieve"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// defaultQueryTimeout is the deadline applied to search/ask/explain when
// Config doesn't override it. Indexing and document tools are unbounded.
const defaultQueryTimeout = 30 * time.Second

// Server wires ragserver's retrieval pipeline and vector store to an MCP
// stdio server.
type Server struct {
	mcpServer *mcp.Server
	retriever *retrieve.Retriever
	reranker  *rerank.Reranker
	indexer   *index.Indexer
	store     *vectorstore.Store

	manifest *manifest.Manifest

	collections       map[string]string // logical name ("cloud", "local") -> physical collection label
	defaultCollection string
	queryTimeout      time.Duration
	logger            *slog.Logger
}

// Config configures a Server.
type Config struct {
	Name    string
	Version string

	Retriever *retrieve.Retriever
	Reranker  *rerank.Reranker
	Indexer   *index.Indexer
	Store     *vectorstore.Store

	Manifest *manifest.Manifest

	// Collections maps logical names ("cloud", "local") to the physical
	// collection label configured for each. DefaultCollection must be a
	// key in this map (or empty if there's exactly one entry).
	Collections       map[string]string
	DefaultCollection string

	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// NewServer builds a Server and registers every tool group.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcptools: server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("mcptools: server version is required")
	}
	if cfg.Retriever == nil || cfg.Reranker == nil || cfg.Indexer == nil || cfg.Store == nil {
		return nil, fmt.Errorf("mcptools: retriever, reranker, indexer, and store are all required")
	}
	if len(cfg.Collections) == 0 {
		return nil, fmt.Errorf("mcptools: at least one collection must be configured")
	}
	defaultCollection := cfg.DefaultCollection
	if defaultCollection == "" {
		if len(cfg.Collections) != 1 {
			return nil, fmt.Errorf("mcptools: default_collection is required when more than one collection is configured")
		}
		for name := range cfg.Collections {
			defaultCollection = name
		}
	}
	if _, ok := cfg.Collections[defaultCollection]; !ok {
		return nil, fmt.Errorf("mcptools: default collection %q not present in configured collections", defaultCollection)
	}

	m := cfg.Manifest
	if m == nil {
		m = manifest.New(cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer:         mcpServer,
		retriever:         cfg.Retriever,
		reranker:          cfg.Reranker,
		indexer:           cfg.Indexer,
		store:             cfg.Store,
		manifest:          m,
		collections:       cfg.Collections,
		defaultCollection: defaultCollection,
		queryTimeout:      queryTimeout,
		logger:            logger,
	}

	if err := s.registerQueryTools(); err != nil {
		return nil, fmt.Errorf("registering query tools: %w", err)
	}
	if err := s.registerVectorTools(); err != nil {
		return nil, fmt.Errorf("registering vector CRUD tools: %w", err)
	}
	if err := s.registerDocumentTools(); err != nil {
		return nil, fmt.Errorf("registering document tools: %w", err)
	}
	if err := s.registerManifestTools(); err != nil {
		return nil, fmt.Errorf("registering manifest tools: %w", err)
	}

	s.manifest.ValidateBriefs()

	return s, nil
}

// Run starts the MCP server on transport; blocks until ctx is cancelled
// or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// resolveCollection maps a logical collection name to its physical label.
// Empty resolves to the configured default.
func (s *Server) resolveCollection(logical string) (string, error) {
	if logical == "" {
		logical = s.defaultCollection
	}
	label, ok := s.collections[logical]
	if !ok {
		return "", apperr.New(apperr.KindValidation, fmt.Sprintf("unknown collection %q", logical))
	}
	return label, nil
}

func schemaFor[T any]() (*jsonschema.Schema, error) {
	return jsonschema.For[T](nil)
}

func registerBriefAndSchema(m *manifest.Manifest, brief manifest.Brief, schema manifest.Schema) {
	m.RegisterBrief(brief)
	m.RegisterSchema(schema)
}
