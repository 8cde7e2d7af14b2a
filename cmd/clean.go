package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/ragserver/internal/vectorstore"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Permanently purge every soft-deleted chunk from every configured collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd.Context())
		},
	}
}

func runClean(ctx context.Context) error {
	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	type target struct {
		name       string
		store      *vectorstore.Store
		collection string
	}
	var targets []target
	if a.CloudStore != nil {
		targets = append(targets, target{"cloud", a.CloudStore, a.Config.CloudStore.Collection})
	}
	if a.LocalStore != nil && a.LocalStore != a.CloudStore {
		targets = append(targets, target{"local", a.LocalStore, a.Config.LocalStore.Collection})
	}

	for _, t := range targets {
		purged, err := purgeDeleted(ctx, t.store, t.collection)
		if err != nil {
			return fmt.Errorf("cleaning %s: %w", t.name, err)
		}
		fmt.Printf("%s: purged %d chunk(s)\n", t.name, purged)
	}
	return nil
}

// purgeDeleted scrolls every soft-deleted chunk in collection and physically
// removes it in batches, rather than loading every id into memory at once.
func purgeDeleted(ctx context.Context, store *vectorstore.Store, collection string) (int, error) {
	filter := vectorstore.Filter{IncludeDeleted: true, OnlyDeleted: true}

	var purged int
	var cursor uint64
	for {
		page, err := store.Scroll(ctx, collection, filter, cursor, 500)
		if err != nil {
			return purged, err
		}
		if len(page.Chunks) == 0 {
			break
		}

		ids := make([]uint64, len(page.Chunks))
		for i, c := range page.Chunks {
			ids[i] = c.ID
		}
		if err := store.DeleteByIDs(ctx, collection, ids); err != nil {
			return purged, err
		}
		purged += len(ids)

		if page.NextCursor == 0 {
			break
		}
		cursor = page.NextCursor
	}
	return purged, nil
}
