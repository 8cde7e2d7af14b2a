package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/chunk"
	"github.com/koopa0/ragserver/internal/manifest"
	"github.com/koopa0/ragserver/internal/vectorstore"
)

// PointInput is one chunk-level point in a vector CRUD call. Unlike the
// document tools, points carry their own precomputed vector: this is the
// low-level surface, with no embedding step in between.
type PointInput struct {
	ID          uint64   `json:"id,omitempty" jsonschema:"description=Explicit point id. Derived from file_path and line_start when omitted."`
	Content     string   `json:"content" jsonschema:"description=The stored text or code content."`
	Vector      []float32 `json:"vector" jsonschema:"description=Precomputed embedding vector."`
	FilePath    string   `json:"file_path" jsonschema:"description=Source file path, used for id derivation and filtering."`
	LineStart   int      `json:"line_start" jsonschema:"description=Starting line number."`
	LineEnd     int      `json:"line_end,omitempty" jsonschema:"description=Ending line number."`
	ContentType string   `json:"content_type,omitempty" jsonschema:"description=One of text, list, table, code. Defaults to text."`
	Language    string   `json:"language,omitempty" jsonschema:"description=Programming language, for code content."`
	Section     string   `json:"section,omitempty" jsonschema:"description=Document section heading."`
	DocType     string   `json:"doc_type,omitempty"`
	CodeType    string   `json:"code_type,omitempty"`
	Name        string   `json:"name,omitempty" jsonschema:"description=Function, method, or class name for code content."`
	ClassName   string   `json:"class_name,omitempty"`
}

func (p PointInput) toChunk() chunk.Chunk {
	ct := chunk.ContentType(p.ContentType)
	if ct == "" {
		ct = chunk.ContentText
	}
	id := p.ID
	if id == 0 {
		id = chunk.ID(p.FilePath, p.LineStart)
	}
	return chunk.Chunk{
		ID:          id,
		Content:     p.Content,
		Vector:      p.Vector,
		FilePath:    chunk.NormalizePath(p.FilePath),
		LineStart:   p.LineStart,
		LineEnd:     p.LineEnd,
		ContentType: ct,
		Language:    p.Language,
		Section:     p.Section,
		DocType:     chunk.DocType(p.DocType),
		CodeType:    chunk.CodeType(p.CodeType),
		Name:        p.Name,
		ClassName:   p.ClassName,
		ContentHash: chunk.ContentHash(p.Content),
	}
}

// AddPointsInput batches new or overwriting points into a collection.
type AddPointsInput struct {
	Collection string       `json:"collection,omitempty" jsonschema:"description=Logical collection name. Defaults to the server's default collection."`
	Points     []PointInput `json:"points" jsonschema:"description=Points to insert."`
}

// UpdatePointsInput batches updates to existing points; every point must
// carry an id that already exists.
type UpdatePointsInput struct {
	Collection string       `json:"collection,omitempty"`
	Points     []PointInput `json:"points" jsonschema:"description=Points to update, each with an existing id."`
}

// DeletePointsInput batches point removal, soft or hard.
type DeletePointsInput struct {
	Collection string   `json:"collection,omitempty"`
	IDs        []uint64 `json:"ids" jsonschema:"description=Point ids to delete."`
	SoftDelete bool     `json:"soft_delete,omitempty" jsonschema:"description=Mark as deleted instead of physically removing."`
	DryRun     bool     `json:"dry_run,omitempty" jsonschema:"description=Report which ids would be affected without mutating anything."`
}

// GetPointsInput bulk-retrieves points by id.
type GetPointsInput struct {
	Collection  string   `json:"collection,omitempty"`
	IDs         []uint64 `json:"ids" jsonschema:"description=Point ids to retrieve."`
	WithVectors bool     `json:"with_vectors,omitempty" jsonschema:"description=Include the embedding vector in the response."`
}

// QueryPointsInput pages through points matching a payload filter.
type QueryPointsInput struct {
	Collection     string `json:"collection,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
	Section        string `json:"section,omitempty"`
	Language       string `json:"language,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	Cursor         uint64 `json:"cursor,omitempty" jsonschema:"description=Resume after this point id; 0 starts from the beginning."`
	Limit          int    `json:"limit,omitempty" jsonschema:"description=Maximum points per page. Defaults to 100."`
}

// CollectionStatsInput names the collection to report point counts for.
type CollectionStatsInput struct {
	Collection string `json:"collection,omitempty"`
}

func (s *Server) registerVectorTools() error {
	addSchema, err := schemaFor[AddPointsInput]()
	if err != nil {
		return fmt.Errorf("schema for add_points: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_points",
		Description: "Insert new points into a collection. Each point carries its own precomputed vector.",
		InputSchema: addSchema,
	}, s.AddPoints)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "add_points", Category: "vector_crud", Text: "Insert points with precomputed vectors."},
		manifest.Schema{Name: "add_points", Description: "Insert new points into a collection.", InputSchema: addSchema})

	updateSchema, err := schemaFor[UpdatePointsInput]()
	if err != nil {
		return fmt.Errorf("schema for update_points: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "update_points",
		Description: "Overwrite existing points by id. Fails if any id is not found.",
		InputSchema: updateSchema,
	}, s.UpdatePoints)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "update_points", Category: "vector_crud", Text: "Overwrite existing points by id."},
		manifest.Schema{Name: "update_points", Description: "Overwrite existing points by id.", InputSchema: updateSchema})

	deleteSchema, err := schemaFor[DeletePointsInput]()
	if err != nil {
		return fmt.Errorf("schema for delete_points: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_points",
		Description: "Delete points by id, soft or hard, with an optional dry run.",
		InputSchema: deleteSchema,
	}, s.DeletePoints)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "delete_points", Category: "vector_crud", Text: "Delete points by id (soft or hard, optionally dry-run)."},
		manifest.Schema{Name: "delete_points", Description: "Delete points by id.", InputSchema: deleteSchema})

	getSchema, err := schemaFor[GetPointsInput]()
	if err != nil {
		return fmt.Errorf("schema for get_points: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_points",
		Description: "Bulk-retrieve points by id. Missing ids are silently omitted from the result.",
		InputSchema: getSchema,
	}, s.GetPoints)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "get_points", Category: "vector_crud", Text: "Bulk-retrieve points by id."},
		manifest.Schema{Name: "get_points", Description: "Bulk-retrieve points by id.", InputSchema: getSchema})

	querySchema, err := schemaFor[QueryPointsInput]()
	if err != nil {
		return fmt.Errorf("schema for query_points: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_points",
		Description: "Page through points matching a payload filter (file_path, section, language, content_type).",
		InputSchema: querySchema,
	}, s.QueryPoints)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "query_points", Category: "vector_crud", Text: "Page through points by payload filter."},
		manifest.Schema{Name: "query_points", Description: "Page through points matching a payload filter.", InputSchema: querySchema})

	statsSchema, err := schemaFor[CollectionStatsInput]()
	if err != nil {
		return fmt.Errorf("schema for get_collection_stats: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_collection_stats",
		Description: "Report live and soft-deleted point counts for a collection.",
		InputSchema: statsSchema,
	}, s.GetCollectionStats)
	registerBriefAndSchema(s.manifest,
		manifest.Brief{Name: "get_collection_stats", Category: "vector_crud", Text: "Report live/deleted point counts for a collection."},
		manifest.Schema{Name: "get_collection_stats", Description: "Report point counts for a collection.", InputSchema: statsSchema})

	return nil
}

// AddPoints handles the add_points tool call.
func (s *Server) AddPoints(ctx context.Context, _ *mcp.CallToolRequest, in AddPointsInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("add_points", err, start))
	}
	if len(in.Points) == 0 {
		return toResult(failure("add_points", apperr.New(apperr.KindValidation, "points must not be empty"), start))
	}

	chunks := make([]chunk.Chunk, len(in.Points))
	ids := make([]uint64, len(in.Points))
	for i, p := range in.Points {
		if len(p.Vector) == 0 {
			return toResult(failure("add_points", apperr.New(apperr.KindValidation, fmt.Sprintf("point %d missing vector", i)), start))
		}
		chunks[i] = p.toChunk()
		ids[i] = chunks[i].ID
	}

	if err := s.store.EnsureCollection(ctx, label, len(chunks[0].Vector)); err != nil {
		return toResult(failure("add_points", err, start))
	}
	if err := s.store.Upsert(ctx, label, chunks); err != nil {
		return toResult(failure("add_points", err, start))
	}
	return toResult(success("add_points", map[string]any{"ids": ids}, len(ids), start))
}

// UpdatePoints handles the update_points tool call: every point must
// already exist.
func (s *Server) UpdatePoints(ctx context.Context, _ *mcp.CallToolRequest, in UpdatePointsInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("update_points", err, start))
	}
	if len(in.Points) == 0 {
		return toResult(failure("update_points", apperr.New(apperr.KindValidation, "points must not be empty"), start))
	}

	ids := make([]uint64, len(in.Points))
	chunks := make([]chunk.Chunk, len(in.Points))
	for i, p := range in.Points {
		if p.ID == 0 {
			return toResult(failure("update_points", apperr.New(apperr.KindValidation, fmt.Sprintf("point %d missing id", i)), start))
		}
		chunks[i] = p.toChunk()
		ids[i] = p.ID
	}

	existing, err := s.store.GetPoints(ctx, label, ids, false)
	if err != nil {
		return toResult(failure("update_points", err, start))
	}
	if len(existing) != len(ids) {
		return toResult(failure("update_points", apperr.New(apperr.KindPointNotFound, "one or more ids not found in collection"), start))
	}

	if err := s.store.Upsert(ctx, label, chunks); err != nil {
		return toResult(failure("update_points", err, start))
	}
	return toResult(success("update_points", map[string]any{"ids": ids}, len(ids), start))
}

// DeletePoints handles the delete_points tool call.
func (s *Server) DeletePoints(ctx context.Context, _ *mcp.CallToolRequest, in DeletePointsInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("delete_points", err, start))
	}
	if len(in.IDs) == 0 {
		return toResult(failure("delete_points", apperr.New(apperr.KindValidation, "ids must not be empty"), start))
	}

	existing, err := s.store.GetPoints(ctx, label, in.IDs, false)
	if err != nil {
		return toResult(failure("delete_points", err, start))
	}
	foundIDs := make([]uint64, len(existing))
	for i, c := range existing {
		foundIDs[i] = c.ID
	}

	if in.DryRun {
		return toResult(success("delete_points", map[string]any{"would_delete": foundIDs}, len(foundIDs), start))
	}

	if in.SoftDelete {
		n, err := s.store.SoftDeleteByIDs(ctx, label, foundIDs)
		if err != nil {
			return toResult(failure("delete_points", err, start))
		}
		return toResult(success("delete_points", map[string]any{"deleted": foundIDs}, int(n), start))
	}

	if err := s.store.DeleteByIDs(ctx, label, foundIDs); err != nil {
		return toResult(failure("delete_points", err, start))
	}
	return toResult(success("delete_points", map[string]any{"deleted": foundIDs}, len(foundIDs), start))
}

// GetPoints handles the get_points tool call.
func (s *Server) GetPoints(ctx context.Context, _ *mcp.CallToolRequest, in GetPointsInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("get_points", err, start))
	}
	chunks, err := s.store.GetPoints(ctx, label, in.IDs, in.WithVectors)
	if err != nil {
		return toResult(failure("get_points", err, start))
	}
	return toResult(success("get_points", chunks, len(chunks), start))
}

// QueryPoints handles the query_points tool call.
func (s *Server) QueryPoints(ctx context.Context, _ *mcp.CallToolRequest, in QueryPointsInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("query_points", err, start))
	}

	filter := vectorstore.Filter{IncludeDeleted: in.IncludeDeleted}
	if in.FilePath != "" {
		p := chunk.NormalizePath(in.FilePath)
		filter.FilePath = &p
	}
	if in.Section != "" {
		filter.Section = &in.Section
	}
	if in.Language != "" {
		filter.Language = &in.Language
	}
	if in.ContentType != "" {
		ct := chunk.ContentType(in.ContentType)
		filter.ContentType = &ct
	}

	result, err := s.store.Scroll(ctx, label, filter, in.Cursor, in.Limit)
	if err != nil {
		return toResult(failure("query_points", err, start))
	}
	return toResult(success("query_points", map[string]any{
		"points":      result.Chunks,
		"next_cursor": result.NextCursor,
	}, len(result.Chunks), start))
}

// GetCollectionStats handles the get_collection_stats tool call.
func (s *Server) GetCollectionStats(ctx context.Context, _ *mcp.CallToolRequest, in CollectionStatsInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	label, err := s.resolveCollection(in.Collection)
	if err != nil {
		return toResult(failure("get_collection_stats", err, start))
	}
	stats, err := s.store.StatsFor(ctx, label)
	if err != nil {
		return toResult(failure("get_collection_stats", err, start))
	}
	return toResult(success("get_collection_stats", stats, 1, start))
}
