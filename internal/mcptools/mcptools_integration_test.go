package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/embed"
	"github.com/koopa0/ragserver/internal/index"
	"github.com/koopa0/ragserver/internal/rerank"
	"github.com/koopa0/ragserver/internal/retrieve"
	"github.com/koopa0/ragserver/internal/testutil"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// newTestServer wires a full Server against a live pgvector-backed store
// and a deterministic fake embedder, mirroring how cmd/ constructs one in
// production minus the genkit model registration.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	container, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	fake := testutil.NewFakeEmbedder(8)
	emb := embed.New(fake)
	ctx := context.Background()
	// Fix Dimension() before any EnsureCollection call by warming up the
	// embedder with a throwaway call.
	if _, err := emb.Embed(ctx, "warmup"); err != nil {
		t.Fatalf("warmup embed: %v", err)
	}

	store := vectorstore.New(container.Pool)
	cloud := &retrieve.Collection{Name: "cloud", Store: store, Label: "docs"}
	retriever := retrieve.New(emb, cloud, nil)
	reranker := rerank.New(nil, rerank.WithBypass(true))
	idx := index.New(store, emb, t.TempDir(), nil, index.WithLockDir(t.TempDir()))

	s, err := NewServer(Config{
		Name:              "ragserver-test",
		Version:           "0.0.0-test",
		Retriever:         retriever,
		Reranker:          reranker,
		Indexer:           idx,
		Store:             store,
		Collections:       map[string]string{"docs": "docs"},
		DefaultCollection: "docs",
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return s
}

// mustDecode unmarshals a tool handler's *mcp.CallToolResult text content
// into env, the same JSON a real MCP client receives over stdio.
func mustDecode(t *testing.T, result *mcp.CallToolResult, env *Envelope) {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("expected exactly one content block, got %d", len(result.Content))
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected *mcp.TextContent, got %T", result.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), env); err != nil {
		t.Fatalf("decoding envelope JSON: %v", err)
	}
}

func TestAddPointsThenGetPoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	addResult, _, err := s.AddPoints(ctx, nil, AddPointsInput{
		Points: []PointInput{
			{Content: "hello world", Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0}, FilePath: "docs/a.md", LineStart: 1},
		},
	})
	if err != nil {
		t.Fatalf("AddPoints() error: %v", err)
	}
	var env Envelope
	mustDecode(t, addResult, &env)
	if !env.Success {
		t.Fatalf("AddPoints() envelope failed: %+v", env.Errors)
	}

	id := chunk.ID("docs/a.md", 1)
	getResult, _, err := s.GetPoints(ctx, nil, GetPointsInput{IDs: []uint64{id}, WithVectors: true})
	if err != nil {
		t.Fatalf("GetPoints() error: %v", err)
	}
	mustDecode(t, getResult, &env)
	if !env.Success {
		t.Fatalf("GetPoints() envelope failed: %+v", env.Errors)
	}
	if env.Metadata.Count != 1 {
		t.Errorf("GetPoints() count = %d, want 1", env.Metadata.Count)
	}
}

func TestUpdatePoints_UnknownIDFails(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, _, err := s.UpdatePoints(ctx, nil, UpdatePointsInput{
		Points: []PointInput{
			{ID: 999999, Content: "x", Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0}, FilePath: "docs/nope.md", LineStart: 1},
		},
	})
	if err != nil {
		t.Fatalf("UpdatePoints() error: %v", err)
	}
	var env Envelope
	mustDecode(t, result, &env)
	if env.Success {
		t.Fatal("expected UpdatePoints() to fail for an unknown id")
	}
	if len(env.Errors) != 1 || env.Errors[0].Code != "POINT_NOT_FOUND" {
		t.Errorf("unexpected error: %+v", env.Errors)
	}
}

func TestDeletePoints_DryRunDoesNotMutate(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	id := chunk.ID("docs/b.md", 1)
	if _, _, err := s.AddPoints(ctx, nil, AddPointsInput{
		Points: []PointInput{{Content: "x", Vector: []float32{0, 1, 0, 0, 0, 0, 0, 0}, FilePath: "docs/b.md", LineStart: 1}},
	}); err != nil {
		t.Fatalf("AddPoints() error: %v", err)
	}

	result, _, err := s.DeletePoints(ctx, nil, DeletePointsInput{IDs: []uint64{id}, DryRun: true})
	if err != nil {
		t.Fatalf("DeletePoints() error: %v", err)
	}
	var env Envelope
	mustDecode(t, result, &env)
	if !env.Success || env.Metadata.Count != 1 {
		t.Fatalf("expected dry-run to report 1 would-delete point, got %+v", env)
	}

	getResult, _, err := s.GetPoints(ctx, nil, GetPointsInput{IDs: []uint64{id}})
	if err != nil {
		t.Fatalf("GetPoints() error: %v", err)
	}
	mustDecode(t, getResult, &env)
	if env.Metadata.Count != 1 {
		t.Fatal("dry-run delete must not have removed the point")
	}
}

func TestAddDocumentThenGetDocument(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	content := "# Title\n\nSome paragraph text about widgets.\n\n## Section Two\n\nMore text here.\n"
	addResult, _, err := s.AddDocument(ctx, nil, UpsertDocumentInput{FilePath: "docs/widgets.md", Content: content})
	if err != nil {
		t.Fatalf("AddDocument() error: %v", err)
	}
	var env Envelope
	mustDecode(t, addResult, &env)
	if !env.Success {
		t.Fatalf("AddDocument() envelope failed: %+v", env.Errors)
	}

	getResult, _, err := s.GetDocument(ctx, nil, GetDocumentInput{FilePath: "docs/widgets.md"})
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	mustDecode(t, getResult, &env)
	if !env.Success {
		t.Fatalf("GetDocument() envelope failed: %+v", env.Errors)
	}
	if env.Metadata.Count == 0 {
		t.Fatal("expected at least one chunk for the indexed document")
	}
}

func TestDeleteDocument_ThenGetDocumentReportsNotFound(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.AddDocument(ctx, nil, UpsertDocumentInput{FilePath: "docs/gone.md", Content: "# Gone\n\nBody.\n"}); err != nil {
		t.Fatalf("AddDocument() error: %v", err)
	}
	if _, _, err := s.DeleteDocument(ctx, nil, DeleteDocumentInput{FilePath: "docs/gone.md"}); err != nil {
		t.Fatalf("DeleteDocument() error: %v", err)
	}

	result, _, err := s.GetDocument(ctx, nil, GetDocumentInput{FilePath: "docs/gone.md"})
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	var env Envelope
	mustDecode(t, result, &env)
	if env.Success {
		t.Fatal("expected GetDocument() to fail after the document was deleted")
	}
	if len(env.Errors) != 1 || env.Errors[0].Code != "POINT_NOT_FOUND" {
		t.Errorf("unexpected error: %+v", env.Errors)
	}
}

func TestSearch_FindsIndexedContent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.AddDocument(ctx, nil, UpsertDocumentInput{
		FilePath: "docs/search-target.md",
		Content:  "# Search Target\n\nThis paragraph mentions widgets and gadgets.\n",
	}); err != nil {
		t.Fatalf("AddDocument() error: %v", err)
	}

	result, _, err := s.Search(ctx, nil, SearchInput{Query: "widgets"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	var env Envelope
	mustDecode(t, result, &env)
	if !env.Success {
		t.Fatalf("Search() envelope failed: %+v", env.Errors)
	}
}

func TestGetManifestAndGetToolSchema(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	manifestResult, _, err := s.GetManifest(ctx, nil, GetManifestInput{})
	if err != nil {
		t.Fatalf("GetManifest() error: %v", err)
	}
	var env Envelope
	mustDecode(t, manifestResult, &env)
	if !env.Success || env.Metadata.Count == 0 {
		t.Fatalf("expected a non-empty manifest, got %+v", env)
	}

	schemaResult, _, err := s.GetToolSchema(ctx, nil, GetToolSchemaInput{Name: "search"})
	if err != nil {
		t.Fatalf("GetToolSchema() error: %v", err)
	}
	mustDecode(t, schemaResult, &env)
	if !env.Success {
		t.Fatalf("GetToolSchema(\"search\") envelope failed: %+v", env.Errors)
	}

	missingResult, _, err := s.GetToolSchema(ctx, nil, GetToolSchemaInput{Name: "does_not_exist"})
	if err != nil {
		t.Fatalf("GetToolSchema() error: %v", err)
	}
	mustDecode(t, missingResult, &env)
	if env.Success {
		t.Fatal("expected an unknown tool name to fail")
	}
}
