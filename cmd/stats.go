package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/ragserver/internal/vectorstore"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report live and soft-deleted point counts for every configured collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context())
		},
	}
}

func runStats(ctx context.Context) error {
	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	type row struct {
		name       string
		store      *vectorstore.Store
		collection string
	}
	var rows []row
	if a.CloudStore != nil {
		rows = append(rows, row{"cloud", a.CloudStore, a.Config.CloudStore.Collection})
	}
	if a.LocalStore != nil {
		rows = append(rows, row{"local", a.LocalStore, a.Config.LocalStore.Collection})
	}

	for _, r := range rows {
		stats, err := r.store.StatsFor(ctx, r.collection)
		if err != nil {
			return fmt.Errorf("reading %s stats: %w", r.name, err)
		}
		fmt.Printf("%s (%s): %d live, %d soft-deleted\n", r.name, r.collection, stats.Live, stats.Deleted)
	}
	return nil
}
