package chunkdoc

import (
	"strings"
	"testing"

	"github.com/koopa0/ragserver/internal/chunk"
)

func TestChunk_EmptyFile(t *testing.T) {
	chunks, err := Chunk([]byte(""), "docs/a.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected zero chunks for empty file, got %d", len(chunks))
	}
}

func TestChunk_TitleFeaturesList(t *testing.T) {
	src := "# Title\n## Features\n1. Alpha\n2. Beta\n3. Gamma\n"
	chunks, err := Chunk([]byte(src), "docs/a.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	var textChunk, listChunk *chunk.Chunk
	for i := range chunks {
		switch chunks[i].ContentType {
		case chunk.ContentText:
			textChunk = &chunks[i]
		case chunk.ContentList:
			listChunk = &chunks[i]
		}
	}

	if textChunk == nil {
		t.Fatal("expected a text chunk for the title section")
	}
	if textChunk.Section != "Title" {
		t.Errorf("expected text chunk section 'Title', got %q", textChunk.Section)
	}

	if listChunk == nil {
		t.Fatal("expected a list chunk for the numbered list")
	}
	if listChunk.ListLength != 3 {
		t.Errorf("expected list_length 3, got %d", listChunk.ListLength)
	}
	if !listChunk.IsComplete {
		t.Error("expected list chunk is_complete=true")
	}
	if listChunk.Section != "Features" {
		t.Errorf("expected list chunk section 'Features', got %q", listChunk.Section)
	}
}

func TestChunk_LevelOneOnlyHeadings(t *testing.T) {
	src := "# Intro\nSome prose about the project.\n"
	chunks, err := Chunk([]byte(src), "docs/b.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if c.Section != "Intro" {
			t.Errorf("expected section 'Intro' for level-1-only document, got %q", c.Section)
		}
	}
}

func TestChunk_LargeNumberedList(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Title\n")
	for i := 1; i <= 10000; i++ {
		sb.WriteString(itoaTest(i))
		sb.WriteString(". item\n")
	}
	src := sb.String()

	chunks, err := Chunk([]byte(src), "docs/c.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	var listChunks []chunk.Chunk
	for _, c := range chunks {
		if c.ContentType == chunk.ContentList {
			listChunks = append(listChunks, c)
		}
	}
	if len(listChunks) != 1 {
		t.Fatalf("expected exactly one list chunk, got %d", len(listChunks))
	}
	if listChunks[0].ListLength != 10000 {
		t.Errorf("expected list_length 10000, got %d", listChunks[0].ListLength)
	}
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestChunk_FencedCodeBlock(t *testing.T) {
	src := "# Title\n\nSome text.\n\n```go\nfunc main() {}\n```\n\nMore text.\n"
	chunks, err := Chunk([]byte(src), "docs/d.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	var codeChunk *chunk.Chunk
	for i := range chunks {
		if chunks[i].ContentType == chunk.ContentCode {
			codeChunk = &chunks[i]
		}
	}
	if codeChunk == nil {
		t.Fatal("expected a fenced code chunk")
	}
	if codeChunk.Language != "go" {
		t.Errorf("expected language 'go', got %q", codeChunk.Language)
	}
	if !strings.Contains(codeChunk.Content, "func main") {
		t.Errorf("expected code content to contain source, got %q", codeChunk.Content)
	}
}

func TestChunk_Table(t *testing.T) {
	src := "# Title\n\n| A | B |\n| --- | --- |\n| 1 | 2 |\n| 3 | 4 |\n"
	chunks, err := Chunk([]byte(src), "docs/e.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	var tableChunk *chunk.Chunk
	for i := range chunks {
		if chunks[i].ContentType == chunk.ContentTable {
			tableChunk = &chunks[i]
		}
	}
	if tableChunk == nil {
		t.Fatal("expected a table chunk")
	}
}

func TestChunk_DeterministicID(t *testing.T) {
	src := "# Title\n## Features\n1. Alpha\n2. Beta\n"
	first, err := Chunk([]byte(src), "docs/a.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	second, err := Chunk([]byte(src), "docs/a.md", Options{})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected stable chunk count, got %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d id not stable across runs: %d vs %d", i, first[i].ID, second[i].ID)
		}
	}
}

func TestChunk_DocTypeMapping(t *testing.T) {
	mapping := map[string]chunk.DocType{"policies": chunk.DocPolicy}
	chunks, err := Chunk([]byte("# Title\nbody\n"), "policies/security.md", Options{DocTypeMapping: mapping})
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if chunks[0].DocType != chunk.DocPolicy {
		t.Errorf("expected doc_type 'policy', got %q", chunks[0].DocType)
	}
}
