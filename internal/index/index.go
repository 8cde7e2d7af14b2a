// Package index walks configured file globs, chunks each file, and
// reconciles the result against a vector store collection: new chunks are
// inserted, changed ones overwritten, vanished ones soft-deleted, and
// reappeared ones recovered. A separate orphan sweep soft-deletes every
// file_path no longer reachable from the configured globs.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/gofrs/flock"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/chunkcode"
	"github.com/koopa0/ragserver/internal/chunkdoc"
	"github.com/koopa0/ragserver/internal/security"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// Embedder is the narrow embedding capability the indexer needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Store is the narrow vector store capability the indexer needs.
type Store interface {
	EnsureCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, chunks []chunk.Chunk) error
	Scroll(ctx context.Context, collection string, filter vectorstore.Filter, cursor uint64, limit int) (vectorstore.ScrollResult, error)
	SoftDelete(ctx context.Context, collection string, filter vectorstore.Filter) (int64, error)
	SoftDeleteByIDs(ctx context.Context, collection string, ids []uint64) (int64, error)
	RecoverByIDs(ctx context.Context, collection string, ids []uint64) (int64, error)
	DistinctFilePaths(ctx context.Context, collection string) ([]string, error)
}

// Kind selects which chunker applies to a glob's files.
type Kind string

const (
	KindDoc  Kind = "doc"
	KindCode Kind = "code"
)

// Result tallies one IndexGlobs or Sweep invocation.
type Result struct {
	FilesIndexed      int
	FilesSkipped      int
	FilesFailed       int
	ChunksInserted    int
	ChunksUpdated     int
	ChunksSoftDeleted int
	ChunksRecovered   int
	OrphanFiles       []string // files soft-deleted (or that would be, under dry-run) by a sweep
	Warnings          []string
}

// Indexer coordinates incremental indexing for one project root.
type Indexer struct {
	store           Store
	embedder        Embedder
	projectRoot     string
	excludePatterns []string
	lockDir         string
	pathValidator   *security.Path
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLockDir overrides where per-collection advisory lock files are
// created. Defaults to os.TempDir().
func WithLockDir(dir string) Option {
	return func(idx *Indexer) { idx.lockDir = dir }
}

// New builds an Indexer rooted at projectRoot. excludePatterns are
// gitignore-style lines applied in addition to any .gitignore found under
// each walked directory.
func New(store Store, embedder Embedder, projectRoot string, excludePatterns []string, opts ...Option) *Indexer {
	idx := &Indexer{
		store:           store,
		embedder:        embedder,
		projectRoot:     projectRoot,
		excludePatterns: excludePatterns,
		lockDir:         os.TempDir(),
	}
	// A validator failure here (e.g. an unreadable cwd) degrades to no
	// extra symlink-escape check beyond resolveFiles' own ".." rejection,
	// rather than failing construction outright.
	if v, err := security.NewPath([]string{projectRoot}); err == nil {
		idx.pathValidator = v
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexGlobs walks globs (file or directory paths, relative to
// projectRoot or absolute), chunks every matching file with the chunker
// for kind, and reconciles the result into collection. Locked per
// collection so concurrent index runs against the same collection
// serialize rather than race.
func (idx *Indexer) IndexGlobs(ctx context.Context, collection string, globs []string, kind Kind) (*Result, error) {
	unlock, err := idx.lock(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := idx.store.EnsureCollection(ctx, collection, idx.embedder.Dimension()); err != nil {
		return nil, err
	}

	result := &Result{}
	files, err := idx.resolveFiles(globs, kind)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if err := idx.indexFile(ctx, collection, f, kind, result); err != nil {
			result.FilesFailed++
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		result.FilesIndexed++
	}
	return result, nil
}

// ResolveFiles expands globs the same way IndexGlobs does, for callers
// (the index CLI's --cleanup sweep) that need the live file set without
// re-running a full index pass.
func (idx *Indexer) ResolveFiles(globs []string, kind Kind) ([]string, error) {
	return idx.resolveFiles(globs, kind)
}

// Sweep soft-deletes every file_path in collection not present in
// liveFiles (the union of paths actually walked by the most recent
// IndexGlobs calls). dryRun true only reports the orphan set without
// mutating anything.
func (idx *Indexer) Sweep(ctx context.Context, collection string, liveFiles []string, dryRun bool) (*Result, error) {
	unlock, err := idx.lock(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer unlock()

	live := map[string]bool{}
	for _, f := range liveFiles {
		live[chunk.NormalizePath(f)] = true
	}

	existing, err := idx.store.DistinctFilePaths(ctx, collection)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, path := range existing {
		if live[path] {
			continue
		}
		result.OrphanFiles = append(result.OrphanFiles, path)
	}
	sort.Strings(result.OrphanFiles)

	if dryRun {
		return result, nil
	}

	for _, path := range result.OrphanFiles {
		p := path
		n, err := idx.store.SoftDelete(ctx, collection, vectorstore.Filter{FilePath: &p})
		if err != nil {
			return nil, err
		}
		result.ChunksSoftDeleted += int(n)
	}
	return result, nil
}

// DeleteDocument soft-deletes every chunk belonging to relPath in
// collection, for the document-level delete_document tool.
func (idx *Indexer) DeleteDocument(ctx context.Context, collection, relPath string) (int64, error) {
	unlock, err := idx.lock(ctx, collection)
	if err != nil {
		return 0, err
	}
	defer unlock()

	p := chunk.NormalizePath(relPath)
	return idx.store.SoftDelete(ctx, collection, vectorstore.Filter{FilePath: &p})
}

func (idx *Indexer) lock(ctx context.Context, collection string) (func(), error) {
	path := filepath.Join(idx.lockDir, "ragserver-index-"+collection+".lock")
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "acquiring index lock", err)
	}
	if !locked {
		return nil, apperr.New(apperr.KindVectorStoreUnavail, fmt.Sprintf("collection %q is already being indexed", collection))
	}
	return func() { _ = fl.Unlock() }, nil
}

// resolveFiles expands globs (files or directories) into an ordered,
// deduplicated list of project-root-relative file paths, applying
// excludePatterns and any .gitignore found in a walked directory. Paths
// that can't be resolved relative to projectRoot are skipped with a
// warning rather than treated as orphaned.
func (idx *Indexer) resolveFiles(globs []string, kind Kind) ([]string, error) {
	var excludes *ignore.GitIgnore
	if len(idx.excludePatterns) > 0 {
		excludes = ignore.CompileIgnoreLines(idx.excludePatterns...)
	}

	seen := map[string]bool{}
	var out []string
	for _, g := range globs {
		abs := g
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(idx.projectRoot, g)
		}
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if rel, ok := idx.relPath(abs); ok && supported(rel, kind) {
				if excludes == nil || !excludes.MatchesPath(rel) {
					if !seen[rel] {
						seen[rel] = true
						out = append(out, rel)
					}
				}
			}
			continue
		}

		dirExcludes := excludes
		if gi := filepath.Join(abs, ".gitignore"); fileExists(gi) {
			if g2, err := ignore.CompileIgnoreFile(gi); err == nil {
				dirExcludes = g2
			}
		}

		_ = filepath.Walk(abs, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			rel, ok := idx.relPath(p)
			if !ok {
				return nil
			}
			if fi.IsDir() {
				if dirExcludes != nil && dirExcludes.MatchesPath(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if dirExcludes != nil && dirExcludes.MatchesPath(rel) {
				return nil
			}
			if !supported(rel, kind) {
				return nil
			}
			if !seen[rel] {
				seen[rel] = true
				out = append(out, rel)
			}
			return nil
		})
	}
	sort.Strings(out)
	return out, nil
}

func (idx *Indexer) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(idx.projectRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		slog.Warn("skipping path not resolvable relative to the project root", "path", abs)
		return "", false
	}
	if idx.pathValidator != nil {
		if _, err := idx.pathValidator.Validate(abs); err != nil {
			slog.Warn("skipping path rejected by path validation", "path", abs, "error", err)
			return "", false
		}
	}
	return chunk.NormalizePath(rel), true
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

var codeExtensions = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".c": "c", ".cpp": "cpp", ".rs": "rust", ".rb": "ruby",
}

func supported(relPath string, kind Kind) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	switch kind {
	case KindDoc:
		return ext == ".md" || ext == ".markdown"
	case KindCode:
		_, ok := codeExtensions[ext]
		return ok
	default:
		return false
	}
}

type existingChunk struct {
	id        uint64
	hash      string
	isDeleted bool
}

// indexFile implements the five-step incremental upsert for one file read
// from disk.
func (idx *Indexer) indexFile(ctx context.Context, collection, relPath string, kind Kind, result *Result) error {
	abs := filepath.Join(idx.projectRoot, relPath)
	source, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return idx.indexContent(ctx, collection, relPath, source, kind, result)
}

// IndexDocument runs the same five-step incremental upsert as IndexGlobs'
// per-file path but against caller-supplied content rather than a file read
// from disk — the path a document-level tool call (add/update a single
// document) takes when the caller hands over content directly. Locked per
// collection like IndexGlobs so it can't race a concurrent glob index run.
func (idx *Indexer) IndexDocument(ctx context.Context, collection, relPath string, source []byte, kind Kind) (*Result, error) {
	unlock, err := idx.lock(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := idx.store.EnsureCollection(ctx, collection, idx.embedder.Dimension()); err != nil {
		return nil, err
	}

	result := &Result{}
	if err := idx.indexContent(ctx, collection, relPath, source, kind, result); err != nil {
		return nil, err
	}
	result.FilesIndexed = 1
	return result, nil
}

// indexContent is the five-step incremental upsert shared by indexFile and
// IndexDocument.
func (idx *Indexer) indexContent(ctx context.Context, collection, relPath string, source []byte, kind Kind, result *Result) error {
	var fresh []chunk.Chunk
	var err error
	if kind == KindDoc {
		fresh, err = chunkdoc.Chunk(source, relPath, chunkdoc.Options{})
	} else {
		fresh, err = chunkcode.Chunk(source, relPath, codeExtensions[strings.ToLower(filepath.Ext(relPath))])
	}
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}

	existing, err := idx.scrollAll(ctx, collection, relPath)
	if err != nil {
		return err
	}

	freshByLine := map[int]bool{}
	var toEmbed []chunk.Chunk
	var toRecover []uint64

	for _, c := range fresh {
		freshByLine[c.LineStart] = true
		prev, ok := existing[c.LineStart]
		switch {
		case ok && prev.hash == c.ContentHash && !prev.isDeleted:
			// unchanged and live: nothing to do
		case ok && prev.hash == c.ContentHash && prev.isDeleted:
			toRecover = append(toRecover, c.ID)
			result.ChunksRecovered++
		case ok:
			toEmbed = append(toEmbed, c)
			result.ChunksUpdated++
		default:
			toEmbed = append(toEmbed, c)
			result.ChunksInserted++
		}
	}

	var toSoftDelete []uint64
	for line, prev := range existing {
		if !freshByLine[line] && !prev.isDeleted {
			toSoftDelete = append(toSoftDelete, prev.id)
		}
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, c := range toEmbed {
			texts[i] = c.Content
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
		for i := range toEmbed {
			toEmbed[i].Vector = vectors[i]
		}
		if err := idx.store.Upsert(ctx, collection, toEmbed); err != nil {
			return err
		}
	}

	if len(toRecover) > 0 {
		if _, err := idx.store.RecoverByIDs(ctx, collection, toRecover); err != nil {
			return err
		}
	}

	if len(toSoftDelete) > 0 {
		n, err := idx.store.SoftDeleteByIDs(ctx, collection, toSoftDelete)
		if err != nil {
			return err
		}
		result.ChunksSoftDeleted += int(n)
	}

	return nil
}

// scrollAll pages through every chunk (live and soft-deleted) belonging to
// relPath, keyed by line_start.
func (idx *Indexer) scrollAll(ctx context.Context, collection, relPath string) (map[int]existingChunk, error) {
	out := map[int]existingChunk{}
	p := relPath
	filter := vectorstore.Filter{FilePath: &p, IncludeDeleted: true}
	var cursor uint64
	for {
		page, err := idx.store.Scroll(ctx, collection, filter, cursor, 1000)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Chunks {
			out[c.LineStart] = existingChunk{id: c.ID, hash: c.ContentHash, isDeleted: c.IsDeleted}
		}
		if page.NextCursor == 0 {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}
