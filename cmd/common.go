// Package cmd implements ragserver's CLI: indexing and maintenance
// subcommands plus the stdio MCP server entry point, all built on a
// config.Config loaded once per process and an app.App wired from it.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/koopa0/ragserver/internal/app"
	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/config"
)

// setupApp loads configuration and builds a fully wired App. Callers must
// call the returned cleanup func (typically via defer) exactly once.
func setupApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindConfigError, "loading config", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	cleanup := func() {
		if closeErr := a.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "shutdown error: %v\n", closeErr)
		}
	}
	return a, cleanup, nil
}
