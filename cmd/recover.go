package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/ragserver/internal/vectorstore"
)

func newRecoverCmd() *cobra.Command {
	var (
		all  bool
		file string
	)

	c := &cobra.Command{
		Use:   "recover",
		Short: "Clear is_deleted on soft-deleted chunks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (file != "") {
				return fmt.Errorf("exactly one of --all or --file must be set")
			}
			return runRecover(cmd.Context(), file)
		},
	}
	c.Flags().BoolVar(&all, "all", false, "recover every soft-deleted chunk in every configured collection")
	c.Flags().StringVar(&file, "file", "", "recover only chunks belonging to this project-relative file path")
	return c
}

func runRecover(ctx context.Context, file string) error {
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
		filter := vectorstore.Filter{IncludeDeleted: true, OnlyDeleted: true}
		if file != "" {
			filter.FilePath = &file
		}
		n, err := t.store.Recover(ctx, t.collection, filter)
		if err != nil {
			return fmt.Errorf("recovering %s: %w", t.name, err)
		}
		fmt.Printf("%s: recovered %d chunk(s)\n", t.name, n)
	}
	return nil
}
