// Package app wires ragserver's configuration, embedding provider, vector
// stores, and retrieval pipeline into a single container, and builds the
// MCP tool surface on top of it.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

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

// App is the fully wired application container. It owns every resource
// that needs an orderly shutdown (connection pools) and every component
// the cmd package's subcommands drive directly.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder *embed.Embedder

	// CloudPool and LocalPool back CloudStore and LocalStore respectively;
	// either pair may be nil depending on which of cloud_qdrant/local_qdrant
	// is configured. When both point at the same DSN, LocalPool/LocalStore
	// alias CloudPool/CloudStore, and Close closes that shared pool once.
	CloudPool  *pgxpool.Pool
	LocalPool  *pgxpool.Pool
	CloudStore *vectorstore.Store
	LocalStore *vectorstore.Store

	// PrimaryStore is CloudStore if configured, else LocalStore. Vector and
	// document CRUD tools operate against a single physical store with
	// multiple named collections; search can still fan out across both
	// CloudStore and LocalStore through Retriever.
	PrimaryStore *vectorstore.Store

	// CloudIndexer and LocalIndexer index into their respective stores;
	// nil when the corresponding store isn't configured. cmd's index
	// subcommand selects between them with --cloud/--local.
	CloudIndexer *index.Indexer
	LocalIndexer *index.Indexer

	Retriever *retrieve.Retriever
	Reranker  *rerank.Reranker
	Manifest  *manifest.Manifest

	PathValidator *security.Path

	MCPServer *mcptools.Server

	logger *slog.Logger
	cancel context.CancelFunc
}

// Close releases every resource App owns. Safe to call multiple times and
// on a partially initialized App (as Setup does on its error path).
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.CloudPool != nil {
		a.CloudPool.Close()
	}
	if a.LocalPool != nil && a.LocalPool != a.CloudPool {
		a.LocalPool.Close()
	}
	if a.logger != nil {
		a.logger.Info("application shut down")
	}
	return nil
}
