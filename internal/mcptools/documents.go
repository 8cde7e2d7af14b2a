package mcptools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/index"
	"github.com/koopa0/ragserver/internal/manifest"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// UpsertDocumentInput is shared by add_document and update_document: both
// run the same idempotent chunk-diff-embed-upsert pipeline, so the same
// call is correct whether the document is new or already indexed.
type UpsertDocumentInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"description=Logical collection name. Defaults to the server's default collection."`
	FilePath   string `json:"file_path" jsonschema:"description=Project-relative path of the document."`
	Content    string `json:"content" jsonschema:"description=Full document content."`
	Kind       string `json:"kind,omitempty" jsonschema:"description=doc or code. Defaults to doc."`
}

// DeleteDocumentInput names the document to soft-delete.
type DeleteDocumentInput struct {
	Collection string `json:"collection,omitempty"`
	FilePath   string `json:"file_path" jsonschema:"description=Project-relative path of the document to delete."`
}

// GetDocumentInput names the document to retrieve.
type GetDocumentInput struct {
	Collection  string `json:"collection,omitempty"`
	FilePath    string `json:"file_path" jsonschema:"description=Project-relative path of the document to retrieve."`
	WithVectors bool   `json:"with_vectors,omitempty"`
}

func (s *Server) registerDocumentTools() error {
	upsertSchema, err := schemaFor[UpsertDocumentInput]()
	if err != nil {
		return fmt.Errorf("schema for document upsert tools: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_document",
		Description: "Chunk and index a document's full content, reconciling against any previous version of the same file.",
		InputSchema: upsertSchema,
	}, s.AddDocument)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "add_document", Category: "document", Text: "Chunk and index a new document."},
		manifest.Schema{Name: "add_document", Description: "Chunk and index a document.", InputSchema: upsertSchema})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "update_document",
		Description: "Re-chunk and re-index a document's content, upserting changed chunks and soft-deleting removed ones.",
		InputSchema: upsertSchema,
	}, s.UpdateDocument)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "update_document", Category: "document", Text: "Re-index an already-indexed document's new content."},
		manifest.Schema{Name: "update_document", Description: "Re-chunk and re-index a document.", InputSchema: upsertSchema})

	deleteSchema, err := schemaFor[DeleteDocumentInput]()
	if err != nil {
		return fmt.Errorf("schema for delete_document: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_document",
		Description: "Soft-delete every chunk belonging to a document.",
		InputSchema: deleteSchema,
	}, s.DeleteDocument)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "delete_document", Category: "document", Text: "Soft-delete every chunk of a document."},
		manifest.Schema{Name: "delete_document", Description: "Soft-delete a document's chunks.", InputSchema: deleteSchema})

	getSchema, err := schemaFor[GetDocumentInput]()
	if err != nil {
		return fmt.Errorf("schema for get_document: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_document",
		Description: "Retrieve every live chunk belonging to a document, in source order.",
		InputSchema: getSchema,
	}, s.GetDocument)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "get_document", Category: "document", Text: "Retrieve a document's chunks in source order."},
		manifest.Schema{Name: "get_document", Description: "Retrieve a document's chunks.", InputSchema: getSchema})

	return nil
}

func upsertKind(raw string) index.Kind {
	if strings.EqualFold(raw, "code") {
		return index.KindCode
	}
	return index.KindDoc
}

func (s *Server) upsertDocument(ctx context.Context, operation string, in UpsertDocumentInput, start time.Time) (*mcp.CallToolResult, any, error) {
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure(operation, err, start))
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return toResult(failure(operation, apperr.New(apperr.KindValidation, "file_path must not be empty"), start))
	}

	result, err := s.indexer.IndexDocument(ctx, label, in.FilePath, []byte(in.Content), upsertKind(in.Kind))
	if err != nil {
		return toResult(failure(operation, err, start))
	}
	count := result.ChunksInserted + result.ChunksUpdated + result.ChunksRecovered
	return toResult(success(operation, result, count, start))
}

// AddDocument handles the add_document tool call.
func (s *Server) AddDocument(ctx context.Context, _ *mcp.CallToolRequest, in UpsertDocumentInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	return s.upsertDocument(ctx, "add_document", in, start)
}

// UpdateDocument handles the update_document tool call.
func (s *Server) UpdateDocument(ctx context.Context, _ *mcp.CallToolRequest, in UpsertDocumentInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	return s.upsertDocument(ctx, "update_document", in, start)
}

// DeleteDocument handles the delete_document tool call.
func (s *Server) DeleteDocument(ctx context.Context, _ *mcp.CallToolRequest, in DeleteDocumentInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("delete_document", err, start))
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return toResult(failure("delete_document", apperr.New(apperr.KindValidation, "file_path must not be empty"), start))
	}

	n, err := s.indexer.DeleteDocument(ctx, label, in.FilePath)
	if err != nil {
		return toResult(failure("delete_document", err, start))
	}
	return toResult(success("delete_document", map[string]any{"chunks_deleted": n}, int(n), start))
}

// GetDocument handles the get_document tool call.
func (s *Server) GetDocument(ctx context.Context, _ *mcp.CallToolRequest, in GetDocumentInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("get_document", err, start))
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return toResult(failure("get_document", apperr.New(apperr.KindValidation, "file_path must not be empty"), start))
	}

	p := chunk.NormalizePath(in.FilePath)
	filter := vectorstore.Filter{FilePath: &p}

	var all []chunk.Chunk
	var cursor uint64
	for {
		page, err := s.store.Scroll(ctx, label, filter, cursor, 1000)
		if err != nil {
			return toResult(failure("get_document", err, start))
		}
		if in.WithVectors && len(page.Chunks) > 0 {
			ids := make([]uint64, len(page.Chunks))
			for i, c := range page.Chunks {
				ids[i] = c.ID
			}
			withVectors, err := s.store.GetPoints(ctx, label, ids, true)
			if err != nil {
				return toResult(failure("get_document", err, start))
			}
			page.Chunks = withVectors
		}
		all = append(all, page.Chunks...)
		if page.NextCursor == 0 {
			break
		}
		cursor = page.NextCursor
	}

	if len(all) == 0 {
		return toResult(failure("get_document", apperr.New(apperr.KindPointNotFound, fmt.Sprintf("no chunks found for %q", in.FilePath)), start))
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LineStart < all[j].LineStart })
	return toResult(success("get_document", all, len(all), start))
}
