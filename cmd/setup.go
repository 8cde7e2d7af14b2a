package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/ragserver/internal/config"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Verify configuration, run migrations, and confirm connectivity to every configured store",
		Long: `setup runs the same initialization the server and indexer perform on
startup — loading configuration, running pending migrations, connecting to
every configured vector store, ensuring its collection exists, and warming
up the embedding provider — then reports readiness and exits without
staying resident.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSetup(cmd.Context())
		},
	}
}

func runSetup(ctx context.Context) error {
	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	provider := a.Config.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	fmt.Printf("configuration valid, project root %q\n", a.Config.ProjectRoot)
	fmt.Printf("embedding provider %q ready, dimension %d\n", provider, a.Embedder.Dimension())

	if a.CloudStore != nil {
		fmt.Printf("cloud store ready: collection %q\n", a.Config.CloudStore.Collection)
	}
	if a.LocalStore != nil {
		fmt.Printf("local store ready: collection %q\n", a.Config.LocalStore.Collection)
	}
	if a.CloudStore == nil && a.LocalStore == nil {
		return fmt.Errorf("no vector store configured: set cloud_qdrant, local_qdrant, or both")
	}

	fmt.Println("setup complete")
	return nil
}
