package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/ragserver/internal/app"
	"github.com/koopa0/ragserver/internal/index"
)

func newDeleteCmd() *cobra.Command {
	var (
		preview bool
		confirm bool
	)

	c := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete every chunk whose file no longer matches any configured glob",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if preview == confirm {
				return fmt.Errorf("exactly one of --preview or --confirm must be set")
			}
			return runDelete(cmd.Context(), confirm)
		},
	}
	c.Flags().BoolVar(&preview, "preview", false, "report what would be soft-deleted without mutating anything")
	c.Flags().BoolVar(&confirm, "confirm", false, "apply the soft-deletes")
	return c
}

func runDelete(ctx context.Context, confirm bool) error {
	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, t := range orphanTargets(a) {
		liveFiles, err := liveFilesFor(t.indexer, t.docGlobs, t.codeGlobs)
		if err != nil {
			return fmt.Errorf("resolving %s live files: %w", t.name, err)
		}

		result, err := t.indexer.Sweep(ctx, t.collection, liveFiles, !confirm)
		if err != nil {
			return fmt.Errorf("sweeping %s: %w", t.name, err)
		}
		verb := "would soft-delete"
		if confirm {
			verb = "soft-deleted"
		}
		fmt.Printf("%s: %s %d orphan file(s)\n", t.name, verb, len(result.OrphanFiles))
		for _, f := range result.OrphanFiles {
			fmt.Printf("  %s\n", f)
		}
	}
	return nil
}

type orphanTarget struct {
	name                string
	indexer             *index.Indexer
	collection          string
	docGlobs, codeGlobs []string
}

func orphanTargets(a *app.App) []orphanTarget {
	var targets []orphanTarget
	if a.CloudIndexer != nil {
		targets = append(targets, orphanTarget{"cloud", a.CloudIndexer, a.Config.CloudStore.Collection, a.Config.CloudDocs, a.Config.CodePaths})
	}
	if a.LocalIndexer != nil && a.LocalIndexer != a.CloudIndexer {
		targets = append(targets, orphanTarget{"local", a.LocalIndexer, a.Config.LocalStore.Collection, a.Config.LocalDocs, a.Config.CodePaths})
	}
	return targets
}

func liveFilesFor(idx *index.Indexer, docGlobs, codeGlobs []string) ([]string, error) {
	var live []string
	docs, err := idx.ResolveFiles(docGlobs, index.KindDoc)
	if err != nil {
		return nil, err
	}
	live = append(live, docs...)
	code, err := idx.ResolveFiles(codeGlobs, index.KindCode)
	if err != nil {
		return nil, err
	}
	live = append(live, code...)
	return live, nil
}
