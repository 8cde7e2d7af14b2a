// Package vectorstore implements the typed operations the rest of the
// system needs from a vector database: ensure_collection, upsert,
// delete_by_ids, soft_delete/recover, get_points, scroll, and
// vector_search. It is backed by PostgreSQL + pgvector rather than a
// dedicated vector database service, storing every logical collection in
// one shared "chunks" table scoped by collection_name.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/ragserver/internal/apperr"
	"github.com/koopa0/ragserver/internal/chunk"
)

// upsertBatchSize caps the number of points sent to Postgres per statement,
// matching the batching ceiling every C4 operation must respect.
const upsertBatchSize = 1000

// Store is a PostgreSQL + pgvector-backed vector store adapter. It is safe
// for concurrent use by multiple goroutines.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Callers are responsible for running
// migrations (db.Migrate) before constructing a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect parses dsn, opens a pool with the connection-lifetime defaults
// the rest of the system expects, and pings it before returning.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigError, "parsing vector store DSN", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "opening vector store pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "pinging vector store", err)
	}
	return pool, nil
}

// Filter selects chunks by the indexed payload keys: file_path, section,
// language, content_type, is_deleted. A nil field
// means "don't filter on this key".
type Filter struct {
	FilePath       *string
	Section        *string
	Language       *string
	ContentType    *chunk.ContentType
	IncludeDeleted bool // if true, matches rows regardless of is_deleted
	OnlyDeleted    bool // if true (and IncludeDeleted), restrict to is_deleted=true
}

func (f Filter) whereClause(args *[]any, collection string) string {
	clause := "collection_name = $1"
	*args = append(*args, collection)
	add := func(column string, val any) {
		*args = append(*args, val)
		clause += fmt.Sprintf(" AND %s = $%d", column, len(*args))
	}
	if f.FilePath != nil {
		add("file_path", *f.FilePath)
	}
	if f.Section != nil {
		add("section", *f.Section)
	}
	if f.Language != nil {
		add("language", *f.Language)
	}
	if f.ContentType != nil {
		add("content_type", string(*f.ContentType))
	}
	if !f.IncludeDeleted {
		clause += " AND is_deleted = false"
	} else if f.OnlyDeleted {
		clause += " AND is_deleted = true"
	}
	return clause
}

// Stats reports point counts for one collection split by is_deleted.
type Stats struct {
	Live    int64
	Deleted int64
}

// metadataPayload is the subset of Chunk fields not backed by a dedicated
// indexed column; it rides along in the chunks.metadata JSONB column.
type metadataPayload struct {
	DocType    chunk.DocType  `json:"doc_type,omitempty"`
	CodeType   chunk.CodeType `json:"code_type,omitempty"`
	Name       string         `json:"name,omitempty"`
	ClassName  string         `json:"class_name,omitempty"`
	Imports    []string       `json:"imports,omitempty"`
	ListLength int            `json:"list_length,omitempty"`
	IsComplete bool           `json:"is_complete,omitempty"`
}

func toMetadata(c chunk.Chunk) ([]byte, error) {
	return json.Marshal(metadataPayload{
		DocType:    c.DocType,
		CodeType:   c.CodeType,
		Name:       c.Name,
		ClassName:  c.ClassName,
		Imports:    c.Imports,
		ListLength: c.ListLength,
		IsComplete: c.IsComplete,
	})
}

func fromMetadata(raw []byte, c *chunk.Chunk) error {
	if len(raw) == 0 {
		return nil
	}
	var m metadataPayload
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	c.DocType = m.DocType
	c.CodeType = m.CodeType
	c.Name = m.Name
	c.ClassName = m.ClassName
	c.Imports = m.Imports
	c.ListLength = m.ListLength
	c.IsComplete = m.IsComplete
	return nil
}

// EnsureCollection is idempotent: it records collection's embedding
// dimension on first use and fails if a later call names a different
// dimension than what was recorded. The first collection ever created
// against this table also fixes chunks.embedding to a concrete
// vector(dim) and builds its ivfflat index, since every collection shares
// one physical table.
func (s *Store) EnsureCollection(ctx context.Context, collection string, dim int) error {
	const q = `
		INSERT INTO collections (name, dimension) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, collection, dim)
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "ensuring collection", err)
	}
	if tag.RowsAffected() == 1 {
		return s.fixEmbeddingDimension(ctx, collection, dim)
	}

	var existing int
	err = s.pool.QueryRow(ctx, `SELECT dimension FROM collections WHERE name = $1`, collection).Scan(&existing)
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "reading collection dimension", err)
	}
	if existing != dim {
		return apperr.New(apperr.KindDimensionMismatch,
			fmt.Sprintf("collection %q was created with dimension %d, got %d", collection, existing, dim))
	}
	return nil
}

// fixEmbeddingDimension gives the shared chunks.embedding column a concrete
// pgvector dimension the first time any collection is created, since
// ivfflat refuses to index a dimensionless vector column. pgvector's typmod
// for the vector type is the dimension itself, with no base-size offset.
// A later collection with a different dimension is rejected here rather
// than left to fail inside an ALTER or an insert.
func (s *Store) fixEmbeddingDimension(ctx context.Context, collection string, dim int) error {
	var colDim int
	err := s.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'chunks'::regclass AND attname = 'embedding' AND NOT attisdropped`).Scan(&colDim)
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "reading embedding column dimension", err)
	}
	if colDim == dim {
		return nil // already fixed at this dimension by an earlier collection
	}
	if colDim > 0 {
		return apperr.New(apperr.KindDimensionMismatch,
			fmt.Sprintf("chunks.embedding is already fixed at dimension %d, got %d for collection %q", colDim, dim, collection))
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d)`, dim)); err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "fixing embedding column dimension", err)
	}
	if _, err := s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`); err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "creating embedding index", err)
	}
	if _, err := s.pool.Exec(ctx, `ANALYZE chunks`); err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "analyzing chunks", err)
	}
	return nil
}

// Upsert writes points in batches of at most upsertBatchSize. A chunk
// sharing an id with an existing row overwrites it in place.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []chunk.Chunk) error {
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.upsertBatch(ctx, collection, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, collection string, batch []chunk.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "beginning upsert transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO chunks (
			id, collection_name, content, embedding, file_path, line_start, line_end,
			section, language, content_type, content_hash, is_deleted, metadata, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false,$12,now())
		ON CONFLICT (collection_name, id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			file_path = EXCLUDED.file_path,
			line_start = EXCLUDED.line_start,
			line_end = EXCLUDED.line_end,
			section = EXCLUDED.section,
			language = EXCLUDED.language,
			content_type = EXCLUDED.content_type,
			content_hash = EXCLUDED.content_hash,
			is_deleted = false,
			deleted_at = NULL,
			metadata = EXCLUDED.metadata,
			updated_at = now()`

	for _, c := range batch {
		meta, err := toMetadata(c)
		if err != nil {
			return apperr.Wrap(apperr.KindVectorStoreUnavail, "marshaling chunk metadata", err)
		}
		vec := pgvector.NewVector(c.Vector)
		_, err = tx.Exec(ctx, q,
			int64(c.ID), collection, c.Content, &vec, c.FilePath, c.LineStart, c.LineEnd,
			nullableString(c.Section), nullableString(c.Language), string(c.ContentType), c.ContentHash, meta)
		if err != nil {
			return apperr.Wrap(apperr.KindVectorStoreUnavail, fmt.Sprintf("upserting chunk %d", c.ID), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "committing upsert", err)
	}
	return nil
}

// DeleteByIDs physically removes rows; callers that only want to mark
// chunks as gone should use SoftDelete instead.
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []uint64) error {
	for start := 0; start < len(ids); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := toInt64s(ids[start:end])
		_, err := s.pool.Exec(ctx,
			`DELETE FROM chunks WHERE collection_name = $1 AND id = ANY($2)`, collection, batch)
		if err != nil {
			return apperr.Wrap(apperr.KindVectorStoreUnavail, "deleting chunks", err)
		}
	}
	return nil
}

// SoftDelete marks every chunk matching filter as deleted with one UPDATE
// statement; the matching rows are not split into batches.
func (s *Store) SoftDelete(ctx context.Context, collection string, filter Filter) (int64, error) {
	return s.setDeleted(ctx, collection, filter, true)
}

// SoftDeleteByIDs marks specific chunks as deleted, batched at
// upsertBatchSize ids per statement, used when only a subset of a file's
// chunks vanished rather than the whole file.
func (s *Store) SoftDeleteByIDs(ctx context.Context, collection string, ids []uint64) (int64, error) {
	return s.setDeletedByIDs(ctx, collection, ids, true)
}

// RecoverByIDs clears is_deleted for specific chunks.
func (s *Store) RecoverByIDs(ctx context.Context, collection string, ids []uint64) (int64, error) {
	return s.setDeletedByIDs(ctx, collection, ids, false)
}

func (s *Store) setDeletedByIDs(ctx context.Context, collection string, ids []uint64, deleted bool) (int64, error) {
	deletedAt := "NULL"
	if deleted {
		deletedAt = "now()"
	}
	q := fmt.Sprintf(`UPDATE chunks SET is_deleted = %t, deleted_at = %s, updated_at = now()
		WHERE collection_name = $1 AND id = ANY($2)`, deleted, deletedAt)

	var total int64
	for start := 0; start < len(ids); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		tag, err := s.pool.Exec(ctx, q, collection, toInt64s(ids[start:end]))
		if err != nil {
			return total, apperr.Wrap(apperr.KindVectorStoreUnavail, "updating is_deleted by id", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// Recover clears is_deleted for every chunk matching filter. Filter should
// set IncludeDeleted+OnlyDeleted to select the rows intended to be
// recovered, since the default filter already excludes deleted rows.
func (s *Store) Recover(ctx context.Context, collection string, filter Filter) (int64, error) {
	return s.setDeleted(ctx, collection, filter, false)
}

func (s *Store) setDeleted(ctx context.Context, collection string, filter Filter, deleted bool) (int64, error) {
	args := []any{}
	where := filter.whereClause(&args, collection)
	deletedAt := "NULL"
	if deleted {
		deletedAt = "now()"
	}
	q := fmt.Sprintf(`UPDATE chunks SET is_deleted = %t, deleted_at = %s, updated_at = now() WHERE %s`,
		deleted, deletedAt, where)
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindVectorStoreUnavail, "updating is_deleted", err)
	}
	return tag.RowsAffected(), nil
}

// GetPoints bulk-retrieves chunks by id. Missing ids are silently omitted.
func (s *Store) GetPoints(ctx context.Context, collection string, ids []uint64, withVectors bool) ([]chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cols := selectColumns(withVectors)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM chunks WHERE collection_name = $1 AND id = ANY($2)`, cols),
		collection, toInt64s(ids))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "getting points", err)
	}
	defer rows.Close()
	return scanChunks(rows, withVectors)
}

// ScrollResult is one page of a scroll enumeration.
type ScrollResult struct {
	Chunks     []chunk.Chunk
	NextCursor uint64 // 0 means no further pages
}

// Scroll paginates over every chunk matching filter in ascending id order.
// cursor is the id to resume after; pass 0 to start from the beginning.
func (s *Store) Scroll(ctx context.Context, collection string, filter Filter, cursor uint64, limit int) (ScrollResult, error) {
	if limit <= 0 {
		limit = 100
	}
	args := []any{}
	where := filter.whereClause(&args, collection)
	args = append(args, int64(cursor), limit+1)
	q := fmt.Sprintf(`SELECT %s FROM chunks WHERE %s AND id > $%d ORDER BY id ASC LIMIT $%d`,
		selectColumns(false), where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return ScrollResult{}, apperr.Wrap(apperr.KindVectorStoreUnavail, "scrolling chunks", err)
	}
	defer rows.Close()
	chunks, err := scanChunks(rows, false)
	if err != nil {
		return ScrollResult{}, err
	}

	var next uint64
	if len(chunks) > limit {
		next = chunks[limit-1].ID
		chunks = chunks[:limit]
	}
	return ScrollResult{Chunks: chunks, NextCursor: next}, nil
}

// VectorSearch returns the top-k chunks by cosine similarity to
// queryVector, ties broken by ascending id for determinism.
func (s *Store) VectorSearch(ctx context.Context, collection string, queryVector []float32, filter Filter, k int, withVectors bool) ([]chunk.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	args := []any{}
	where := filter.whereClause(&args, collection)
	vec := pgvector.NewVector(queryVector)
	args = append(args, &vec, k)
	distCol := len(args) - 1

	q := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $%d) AS score
		FROM chunks
		WHERE %s
		ORDER BY embedding <=> $%d ASC, id ASC
		LIMIT $%d`,
		selectColumns(withVectors), distCol, where, distCol, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "vector search", err)
	}
	defer rows.Close()
	return scanChunksWithScore(rows, withVectors)
}

// StatsFor reports live and soft-deleted point counts for collection.
func (s *Store) StatsFor(ctx context.Context, collection string) (Stats, error) {
	var stats Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE NOT is_deleted),
			count(*) FILTER (WHERE is_deleted)
		FROM chunks WHERE collection_name = $1`, collection).Scan(&stats.Live, &stats.Deleted)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindVectorStoreUnavail, "reading stats", err)
	}
	return stats, nil
}

// DistinctFilePaths returns every file_path with at least one non-deleted
// chunk in collection, used by the indexer's orphan sweep to find paths no
// longer present on disk.
func (s *Store) DistinctFilePaths(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT file_path FROM chunks WHERE collection_name = $1 AND NOT is_deleted`, collection)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "listing distinct file paths", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "scanning file path", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "listing distinct file paths", err)
	}
	return paths, nil
}

func selectColumns(withVectors bool) string {
	cols := "id, content, file_path, line_start, line_end, section, language, content_type, content_hash, is_deleted, metadata"
	if withVectors {
		cols = "embedding, " + cols
	}
	return cols
}

func scanChunks(rows pgx.Rows, withVectors bool) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for rows.Next() {
		c, err := scanOne(rows, withVectors, false)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "reading rows", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func scanChunksWithScore(rows pgx.Rows, withVectors bool) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for rows.Next() {
		c, err := scanOne(rows, withVectors, true)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "reading rows", err)
	}
	return out, nil
}

func scanOne(rows pgx.Rows, withVectors, withScore bool) (chunk.Chunk, error) {
	var c chunk.Chunk
	var id int64
	var section, language pgxText
	var contentType string
	var meta []byte
	var vec pgvector.Vector

	dests := []any{}
	if withVectors {
		dests = append(dests, &vec)
	}
	dests = append(dests, &id, &c.Content, &c.FilePath, &c.LineStart, &c.LineEnd,
		&section, &language, &contentType, &c.ContentHash, &c.IsDeleted, &meta)
	if withScore {
		dests = append(dests, &c.Score)
	}

	if err := rows.Scan(dests...); err != nil {
		return chunk.Chunk{}, apperr.Wrap(apperr.KindVectorStoreUnavail, "scanning chunk row", err)
	}
	c.ID = uint64(id)
	c.Section = string(section)
	c.Language = string(language)
	c.ContentType = chunk.ContentType(contentType)
	if withVectors {
		c.Vector = vec.Slice()
	}
	if err := fromMetadata(meta, &c); err != nil {
		return chunk.Chunk{}, apperr.Wrap(apperr.KindVectorStoreUnavail, "unmarshaling chunk metadata", err)
	}
	return c, nil
}

// pgxText scans a nullable text column into "" rather than requiring
// callers to juggle sql.NullString.
type pgxText string

func (t *pgxText) Scan(src any) error {
	if src == nil {
		*t = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*t = pgxText(v)
	case []byte:
		*t = pgxText(v)
	default:
		return fmt.Errorf("unsupported scan type %T for pgxText", src)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
