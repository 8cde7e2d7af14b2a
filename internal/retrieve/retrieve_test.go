package retrieve

import (
	"context"
	"testing"

	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/classify"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type fakeStore struct {
	searchResults []chunk.Chunk
	scrollResults map[string][]chunk.Chunk // keyed by file_path+"|"+section
}

func (f *fakeStore) VectorSearch(_ context.Context, _ string, _ []float32, _ vectorstore.Filter, k int, _ bool) ([]chunk.Chunk, error) {
	if k > len(f.searchResults) {
		k = len(f.searchResults)
	}
	return append([]chunk.Chunk(nil), f.searchResults[:k]...), nil
}

func (f *fakeStore) Scroll(_ context.Context, _ string, filter vectorstore.Filter, _ uint64, _ int) (vectorstore.ScrollResult, error) {
	if filter.FilePath == nil || filter.Section == nil {
		return vectorstore.ScrollResult{}, nil
	}
	key := *filter.FilePath + "|" + *filter.Section
	return vectorstore.ScrollResult{Chunks: f.scrollResults[key]}, nil
}

func TestRetrieve_CombinesVectorAndLexicalScores(t *testing.T) {
	store := &fakeStore{
		searchResults: []chunk.Chunk{
			{ID: 1, Content: "the retriever merges candidate pools from vector search", FilePath: "docs/a.md", Score: 0.9},
			{ID: 2, Content: "completely unrelated text about baking bread", FilePath: "docs/b.md", Score: 0.85},
		},
	}
	r := New(fakeEmbedder{}, &Collection{Name: "cloud", Store: store, Label: "docs"}, nil)

	results, err := r.Retrieve(context.Background(), "how does the retriever merge candidate pools", classify.Hints{TopK: 10})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("expected lexically-matching chunk to rank first, got id %d", results[0].ID)
	}
}

func TestRetrieve_DedupesByIDKeepingHigherScore(t *testing.T) {
	cloudStore := &fakeStore{searchResults: []chunk.Chunk{{ID: 1, Content: "alpha", FilePath: "a.md", Score: 0.5}}}
	localStore := &fakeStore{searchResults: []chunk.Chunk{{ID: 1, Content: "alpha", FilePath: "a.md", Score: 0.9}}}
	r := New(fakeEmbedder{},
		&Collection{Name: "cloud", Store: cloudStore, Label: "docs"},
		&Collection{Name: "local", Store: localStore, Label: "docs"})

	// Force both legs to run by requesting more than cloud alone returns.
	results, err := r.Retrieve(context.Background(), "alpha", classify.Hints{TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected dedup to 1 result, got %d", len(results))
	}
}

func TestRetrieve_SectionExpansionAddsChunks(t *testing.T) {
	store := &fakeStore{
		searchResults: []chunk.Chunk{
			{ID: 1, Content: "intro text", FilePath: "docs/a.md", Section: "Intro", Score: 0.8},
		},
		scrollResults: map[string][]chunk.Chunk{
			"docs/a.md|Intro": {
				{ID: 1, Content: "intro text", FilePath: "docs/a.md", Section: "Intro"},
				{ID: 2, Content: "more intro text", FilePath: "docs/a.md", Section: "Intro"},
			},
		},
	}
	r := New(fakeEmbedder{}, &Collection{Name: "cloud", Store: store, Label: "docs"}, nil)

	results, err := r.Retrieve(context.Background(), "explain the intro", classify.Hints{TopK: 10, Expand: true})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected expansion to add the sibling chunk, got %d results", len(results))
	}
}

func TestRetrieve_RestrictsContentTypeForCodeSearch(t *testing.T) {
	store := &fakeStore{
		searchResults: []chunk.Chunk{{ID: 1, Content: "func Foo() {}", FilePath: "a.go", ContentType: chunk.ContentCode, Score: 0.9}},
	}
	r := New(fakeEmbedder{}, &Collection{Name: "cloud", Store: store, Label: "code"}, nil)
	codeType := chunk.ContentCode

	results, err := r.Retrieve(context.Background(), "find function Foo", classify.Hints{TopK: 10, RestrictContentType: &codeType})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestRetrieve_NoConfiguredStoreErrors(t *testing.T) {
	r := New(fakeEmbedder{}, nil, nil)
	if _, err := r.Retrieve(context.Background(), "anything", classify.Hints{TopK: 5}); err == nil {
		t.Error("expected error when no vector store is configured")
	}
}

func TestRetrieve_EmptyPoolReturnsEmpty(t *testing.T) {
	store := &fakeStore{}
	r := New(fakeEmbedder{}, &Collection{Name: "cloud", Store: store, Label: "docs"}, nil)

	results, err := r.Retrieve(context.Background(), "nothing matches", classify.Hints{TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}
