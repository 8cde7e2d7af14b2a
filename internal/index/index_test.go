package index

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// fakeStore is an in-memory stand-in for *vectorstore.Store, keyed by
// (collection, id).
type fakeStore struct {
	rows map[string]map[uint64]chunk.Chunk
	dims map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]map[uint64]chunk.Chunk{}, dims: map[string]int{}}
}

func (f *fakeStore) EnsureCollection(_ context.Context, collection string, dim int) error {
	if existing, ok := f.dims[collection]; ok && existing != dim {
		return errDimensionMismatch
	}
	f.dims[collection] = dim
	if f.rows[collection] == nil {
		f.rows[collection] = map[uint64]chunk.Chunk{}
	}
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, collection string, chunks []chunk.Chunk) error {
	for _, c := range chunks {
		c.IsDeleted = false
		f.rows[collection][c.ID] = c
	}
	return nil
}

func (f *fakeStore) Scroll(_ context.Context, collection string, filter vectorstore.Filter, _ uint64, _ int) (vectorstore.ScrollResult, error) {
	var out []chunk.Chunk
	for _, c := range f.rows[collection] {
		if filter.FilePath != nil && c.FilePath != *filter.FilePath {
			continue
		}
		if !filter.IncludeDeleted && c.IsDeleted {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return vectorstore.ScrollResult{Chunks: out}, nil
}

func (f *fakeStore) SoftDelete(_ context.Context, collection string, filter vectorstore.Filter) (int64, error) {
	var n int64
	for id, c := range f.rows[collection] {
		if filter.FilePath != nil && c.FilePath != *filter.FilePath {
			continue
		}
		if !c.IsDeleted {
			c.IsDeleted = true
			f.rows[collection][id] = c
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SoftDeleteByIDs(_ context.Context, collection string, ids []uint64) (int64, error) {
	var n int64
	for _, id := range ids {
		if c, ok := f.rows[collection][id]; ok && !c.IsDeleted {
			c.IsDeleted = true
			f.rows[collection][id] = c
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RecoverByIDs(_ context.Context, collection string, ids []uint64) (int64, error) {
	var n int64
	for _, id := range ids {
		if c, ok := f.rows[collection][id]; ok && c.IsDeleted {
			c.IsDeleted = false
			f.rows[collection][id] = c
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DistinctFilePaths(_ context.Context, collection string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, c := range f.rows[collection] {
		if c.IsDeleted || seen[c.FilePath] {
			continue
		}
		seen[c.FilePath] = true
		out = append(out, c.FilePath)
	}
	sort.Strings(out)
	return out, nil
}

var errDimensionMismatch = &dimErr{}

type dimErr struct{}

func (*dimErr) Error() string { return "dimension mismatch" }

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f fakeEmbedder) Dimension() int { return f.dim }

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexGlobs_InsertsNewChunks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.md", "# Title\n\nSome prose here that is long enough to chunk.\n")

	store := newFakeStore()
	idx := New(store, fakeEmbedder{dim: 4}, root, nil, WithLockDir(t.TempDir()))

	result, err := idx.IndexGlobs(context.Background(), "docs", []string{"docs"}, KindDoc)
	if err != nil {
		t.Fatalf("IndexGlobs() error: %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Errorf("expected 1 file indexed, got %d", result.FilesIndexed)
	}
	if result.ChunksInserted == 0 {
		t.Error("expected at least one chunk inserted")
	}
	if len(store.rows["docs"]) == 0 {
		t.Error("expected rows to be present in the store")
	}
}

func TestIndexGlobs_ReindexUnchangedFileIsNoop(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.md", "# Title\n\nSome prose here that is long enough to chunk.\n")

	store := newFakeStore()
	idx := New(store, fakeEmbedder{dim: 4}, root, nil, WithLockDir(t.TempDir()))
	ctx := context.Background()

	first, err := idx.IndexGlobs(ctx, "docs", []string{"docs"}, KindDoc)
	if err != nil {
		t.Fatalf("first IndexGlobs() error: %v", err)
	}

	second, err := idx.IndexGlobs(ctx, "docs", []string{"docs"}, KindDoc)
	if err != nil {
		t.Fatalf("second IndexGlobs() error: %v", err)
	}
	if second.ChunksInserted != 0 || second.ChunksUpdated != 0 {
		t.Errorf("expected no-op on unchanged content, got inserted=%d updated=%d", second.ChunksInserted, second.ChunksUpdated)
	}
	_ = first
}

func TestIndexGlobs_ChangedContentOverwrites(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.md", "# Title\n\nOriginal prose that is long enough to chunk on its own.\n")

	store := newFakeStore()
	idx := New(store, fakeEmbedder{dim: 4}, root, nil, WithLockDir(t.TempDir()))
	ctx := context.Background()

	if _, err := idx.IndexGlobs(ctx, "docs", []string{"docs"}, KindDoc); err != nil {
		t.Fatalf("first IndexGlobs() error: %v", err)
	}

	writeFile(t, root, "docs/a.md", "# Title\n\nCompletely different prose replacing the original text.\n")
	second, err := idx.IndexGlobs(ctx, "docs", []string{"docs"}, KindDoc)
	if err != nil {
		t.Fatalf("second IndexGlobs() error: %v", err)
	}
	if second.ChunksUpdated == 0 {
		t.Error("expected the changed paragraph to be reported as updated")
	}
}

func TestIndexGlobs_RemovedParagraphSoftDeletes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/a.md", "# Title\n\nFirst paragraph stays.\n\n## Appendix\n\nSecond paragraph will be removed later on.\n")

	store := newFakeStore()
	idx := New(store, fakeEmbedder{dim: 4}, root, nil, WithLockDir(t.TempDir()))
	ctx := context.Background()

	if _, err := idx.IndexGlobs(ctx, "docs", []string{"docs"}, KindDoc); err != nil {
		t.Fatalf("first IndexGlobs() error: %v", err)
	}

	writeFile(t, root, "docs/a.md", "# Title\n\nFirst paragraph stays.\n")
	second, err := idx.IndexGlobs(ctx, "docs", []string{"docs"}, KindDoc)
	if err != nil {
		t.Fatalf("second IndexGlobs() error: %v", err)
	}
	if second.ChunksSoftDeleted == 0 {
		t.Error("expected the removed paragraph's chunk to be soft-deleted")
	}
}

func TestSweep_DryRunReportsWithoutMutating(t *testing.T) {
	store := newFakeStore()
	store.rows["docs"] = map[uint64]chunk.Chunk{
		1: {ID: 1, FilePath: "docs/a.md"},
		2: {ID: 2, FilePath: "docs/gone.md"},
	}
	idx := New(store, fakeEmbedder{dim: 4}, t.TempDir(), nil, WithLockDir(t.TempDir()))

	result, err := idx.Sweep(context.Background(), "docs", []string{"docs/a.md"}, true)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if len(result.OrphanFiles) != 1 || result.OrphanFiles[0] != "docs/gone.md" {
		t.Errorf("expected docs/gone.md reported as orphan, got %+v", result.OrphanFiles)
	}
	if store.rows["docs"][2].IsDeleted {
		t.Error("dry-run must not mutate store state")
	}
}

func TestSweep_PruneSoftDeletesOrphans(t *testing.T) {
	store := newFakeStore()
	store.rows["docs"] = map[uint64]chunk.Chunk{
		1: {ID: 1, FilePath: "docs/a.md"},
		2: {ID: 2, FilePath: "docs/gone.md"},
	}
	idx := New(store, fakeEmbedder{dim: 4}, t.TempDir(), nil, WithLockDir(t.TempDir()))

	result, err := idx.Sweep(context.Background(), "docs", []string{"docs/a.md"}, false)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if result.ChunksSoftDeleted != 1 {
		t.Errorf("expected 1 chunk soft-deleted, got %d", result.ChunksSoftDeleted)
	}
	if !store.rows["docs"][2].IsDeleted {
		t.Error("expected the orphaned chunk to be marked deleted")
	}
	if store.rows["docs"][1].IsDeleted {
		t.Error("expected the live file's chunk to remain untouched")
	}
}
