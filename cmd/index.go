package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/ragserver/internal/app"
	"github.com/koopa0/ragserver/internal/index"
)

func newIndexCmd() *cobra.Command {
	var (
		docs    bool
		code    bool
		cloud   bool
		local   bool
		cleanup bool
		dryRun  bool
		prune   bool
	)

	c := &cobra.Command{
		Use:   "index",
		Short: "Index configured docs and code globs into the vector store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), indexOptions{
				docs: docs, code: code, cloud: cloud, local: local,
				cleanup: cleanup, dryRun: dryRun, prune: prune,
			})
		},
	}

	c.Flags().BoolVar(&docs, "docs", false, "index documentation globs (default: both docs and code)")
	c.Flags().BoolVar(&code, "code", false, "index code globs (default: both docs and code)")
	c.Flags().BoolVar(&cloud, "cloud", false, "restrict to the cloud store (default: every configured store)")
	c.Flags().BoolVar(&local, "local", false, "restrict to the local store (default: every configured store)")
	c.Flags().BoolVar(&cleanup, "cleanup", false, "also sweep for files no longer matched by any glob")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "report what --cleanup would soft-delete without mutating (default)")
	c.Flags().BoolVar(&prune, "prune", false, "apply --cleanup's orphan soft-deletes instead of only reporting them")

	return c
}

type indexOptions struct {
	docs, code, cloud, local, cleanup, dryRun, prune bool
}

type indexTarget struct {
	name       string // "cloud" or "local", for reporting
	indexer    *index.Indexer
	collection string
	docGlobs   []string
	codeGlobs  []string
}

func runIndex(ctx context.Context, opts indexOptions) error {
	a, cleanup, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	targets := indexTargets(a, opts)
	if len(targets) == 0 {
		return fmt.Errorf("no matching store configured for the requested --cloud/--local selection")
	}

	indexBoth := !opts.docs && !opts.code

	for _, t := range targets {
		var liveFiles []string

		if opts.docs || indexBoth {
			result, err := t.indexer.IndexGlobs(ctx, t.collection, t.docGlobs, index.KindDoc)
			if err != nil {
				return fmt.Errorf("indexing %s docs: %w", t.name, err)
			}
			reportResult(t.name, "docs", result)
			if files, err := t.indexer.ResolveFiles(t.docGlobs, index.KindDoc); err == nil {
				liveFiles = append(liveFiles, files...)
			}
		}
		if opts.code || indexBoth {
			result, err := t.indexer.IndexGlobs(ctx, t.collection, t.codeGlobs, index.KindCode)
			if err != nil {
				return fmt.Errorf("indexing %s code: %w", t.name, err)
			}
			reportResult(t.name, "code", result)
			if files, err := t.indexer.ResolveFiles(t.codeGlobs, index.KindCode); err == nil {
				liveFiles = append(liveFiles, files...)
			}
		}

		if opts.cleanup {
			dryRun := !opts.prune
			sweep, err := t.indexer.Sweep(ctx, t.collection, liveFiles, dryRun)
			if err != nil {
				return fmt.Errorf("sweeping %s: %w", t.name, err)
			}
			verb := "would soft-delete"
			if !dryRun {
				verb = "soft-deleted"
			}
			fmt.Printf("%s: %s %d orphan file(s)\n", t.name, verb, len(sweep.OrphanFiles))
		}
	}

	return nil
}

func indexTargets(a *app.App, opts indexOptions) []indexTarget {
	var targets []indexTarget
	wantCloud := opts.cloud || (!opts.cloud && !opts.local)
	wantLocal := opts.local || (!opts.cloud && !opts.local)

	if wantCloud && a.CloudIndexer != nil {
		targets = append(targets, indexTarget{
			name:       "cloud",
			indexer:    a.CloudIndexer,
			collection: a.Config.CloudStore.Collection,
			docGlobs:   a.Config.CloudDocs,
			codeGlobs:  a.Config.CodePaths,
		})
	}
	if wantLocal && a.LocalIndexer != nil {
		targets = append(targets, indexTarget{
			name:       "local",
			indexer:    a.LocalIndexer,
			collection: a.Config.LocalStore.Collection,
			docGlobs:   a.Config.LocalDocs,
			codeGlobs:  a.Config.CodePaths,
		})
	}
	return targets
}

func reportResult(target, kind string, r *index.Result) {
	fmt.Printf("%s %s: %d indexed, %d skipped, %d failed (%d inserted, %d updated, %d soft-deleted, %d recovered)\n",
		target, kind, r.FilesIndexed, r.FilesSkipped, r.FilesFailed,
		r.ChunksInserted, r.ChunksUpdated, r.ChunksSoftDeleted, r.ChunksRecovered)
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
