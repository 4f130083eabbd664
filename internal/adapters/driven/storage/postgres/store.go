package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.RemoteStore = (*Store)(nil)

// Store is a pgvector-backed chunk store.
type Store struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewStore connects to PostgreSQL and bootstraps the chunk table.
func NewStore(ctx context.Context, cfg domain.PostgresSettings, dimensions int) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", domain.ErrConfiguration)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: vector dimensions must be > 0", domain.ErrConfiguration)
	}
	table := cfg.Table
	if table == "" {
		table = "document_chunks"
	}

	sanitized := pgx.Identifier{table}.Sanitize()

	// The vector type must exist before pooled connections register it.
	if err := bootstrap(ctx, cfg.DSN, sanitized, dimensions); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing postgres dsn: %v", domain.ErrConfiguration, err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating pool: %v", domain.ErrStoreUnavailable, err)
	}

	s := &Store{
		pool:       pool,
		table:      sanitized,
		dimensions: dimensions,
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// bootstrap creates the extension, table and index over a single connection.
func bootstrap(ctx context.Context, dsn, table string, dimensions int) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("%w: connecting: %v", domain.ErrStoreUnavailable, err)
	}
	defer conn.Close(ctx) //nolint:errcheck

	for _, stmt := range schemaStatements(table, dimensions) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrapping schema: %w", err)
		}
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// schemaStatements returns the DDL for a chunk table with a vector column of
// the given dimension. table must already be sanitized.
func schemaStatements(table string, dimensions int) []string {
	index := pgx.Identifier{"idx_" + strings.Trim(table, `"`) + "_document_id"}.Sanitize()
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             UUID PRIMARY KEY,
			document_id    UUID NOT NULL,
			content        TEXT NOT NULL CHECK (char_length(content) BETWEEN 1 AND 10000),
			filename       TEXT NOT NULL,
			page_number    INTEGER NOT NULL CHECK (page_number > 0),
			chapter_number INTEGER CHECK (chapter_number > 0),
			section_name   TEXT,
			start_pos      JSONB,
			end_pos        JSONB,
			embedding      vector(%d) NOT NULL,
			token_count    INTEGER NOT NULL CHECK (token_count > 0),
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`, index, table),
	}
}

// ==================== Chunk Store ====================

// BulkInsert upserts rows.
func (s *Store) BulkInsert(ctx context.Context, rows []domain.ChunkRecord) ([]domain.RowResult, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, content, filename, page_number, chapter_number,
			section_name, start_pos, end_pos, embedding, token_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			filename = EXCLUDED.filename,
			page_number = EXCLUDED.page_number,
			chapter_number = EXCLUDED.chapter_number,
			section_name = EXCLUDED.section_name,
			start_pos = EXCLUDED.start_pos,
			end_pos = EXCLUDED.end_pos,
			embedding = EXCLUDED.embedding,
			token_count = EXCLUDED.token_count,
			updated_at = now()`, s.table)

	return s.perRow(ctx, len(rows), func(i int) string { return rows[i].ID },
		func(ctx context.Context, tx pgx.Tx, i int) error {
			c := rows[i]
			_, err := tx.Exec(ctx, query, c.ID, c.DocumentID, c.Content, c.SourceName, c.PageNumber,
				c.ChapterNumber, c.SectionName, c.StartPosition, c.EndPosition,
				pgvector.NewVector(c.Embedding), c.TokenCount, c.CreatedAt.UTC())
			return err
		})
}

// BulkUpdate replaces embeddings. A missing id is a row failure.
func (s *Store) BulkUpdate(ctx context.Context, updates []domain.EmbeddingUpdate) ([]domain.RowResult, error) {
	query := fmt.Sprintf(`UPDATE %s SET embedding = $1, updated_at = now() WHERE id = $2`, s.table)

	return s.perRow(ctx, len(updates), func(i int) string { return updates[i].ID },
		func(ctx context.Context, tx pgx.Tx, i int) error {
			u := updates[i]
			tag, err := tx.Exec(ctx, query, pgvector.NewVector(u.Embedding), u.ID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("chunk %s: %w", u.ID, domain.ErrNotFound)
			}
			return nil
		})
}

// BulkDelete removes rows. Absent ids succeed.
func (s *Store) BulkDelete(ctx context.Context, ids []string) ([]domain.RowResult, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)

	return s.perRow(ctx, len(ids), func(i int) string { return ids[i] },
		func(ctx context.Context, tx pgx.Tx, i int) error {
			_, err := tx.Exec(ctx, query, ids[i])
			return err
		})
}

// ExistenceCheck returns the stored subset of ids.
func (s *Store) ExistenceCheck(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id::text FROM %s WHERE id = ANY($1::text[]::uuid[])`, s.table), ids)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunk ids: %v", domain.ErrStoreUnavailable, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: collecting chunk ids: %v", domain.ErrStoreUnavailable, err)
	}
	return found, nil
}

// AggregateStats counts rows and distinct documents.
func (s *Store) AggregateStats(ctx context.Context) (domain.StoreTotals, error) {
	var rows, parents int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*), count(DISTINCT document_id) FROM %s`, s.table),
	).Scan(&rows, &parents)
	if err != nil {
		return domain.StoreTotals{}, fmt.Errorf("%w: counting chunks: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.StoreTotals{TotalRows: int(rows), TotalParents: int(parents)}, nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.ChunkRecord, error) {
	var (
		f         domain.ChunkFields
		embedding pgvector.Vector
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id::text, document_id::text, content, filename, page_number, chapter_number,
			section_name, start_pos, end_pos, embedding, token_count, created_at
		FROM %s WHERE id = $1`, s.table), id,
	).Scan(&f.ID, &f.DocumentID, &f.Content, &f.SourceName, &f.PageNumber, &f.ChapterNumber,
		&f.SectionName, &f.StartPosition, &f.EndPosition, &embedding, &f.TokenCount, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	f.Embedding = embedding.Slice()
	chunk := domain.RestoreChunkRecord(f, createdAt.UTC())
	return &chunk, nil
}

// perRow runs exec for n rows inside one transaction, each in a savepoint.
func (s *Store) perRow(
	ctx context.Context,
	n int,
	id func(i int) string,
	exec func(ctx context.Context, tx pgx.Tx, i int) error,
) ([]domain.RowResult, error) {
	if n == 0 {
		return []domain.RowResult{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning transaction: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	results := make([]domain.RowResult, n)
	for i := 0; i < n; i++ {
		// Begin on a pgx.Tx opens a savepoint.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: savepoint: %v", domain.ErrStoreUnavailable, err)
		}

		rowErr := exec(ctx, sp, i)
		if rowErr == nil {
			if err := sp.Commit(ctx); err != nil {
				return nil, fmt.Errorf("%w: release savepoint: %v", domain.ErrStoreUnavailable, err)
			}
			results[i] = domain.RowOK(id(i))
			continue
		}

		if !isRowError(rowErr) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, rowErr)
		}
		if err := sp.Rollback(ctx); err != nil {
			return nil, fmt.Errorf("%w: rollback to savepoint: %v", domain.ErrStoreUnavailable, err)
		}
		results[i] = domain.RowFailed(id(i), describeRowError(rowErr))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: committing transaction: %v", domain.ErrStoreUnavailable, err)
	}
	return results, nil
}

// isRowError reports whether err rejects a single row rather than the
// connection: a server error for that statement, or a missing row.
func isRowError(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// Class 08 is connection exception; 57 is operator intervention
	// (shutdown, cancel); 53 is insufficient resources.
	if len(pgErr.Code) < 2 {
		return true
	}
	switch pgErr.Code[:2] {
	case "08", "53", "57":
		return false
	}
	return true
}

// describeRowError makes server errors readable in a batch outcome.
func describeRowError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return fmt.Errorf("unique violation: %s", pgErr.Message)
		case "23503":
			return fmt.Errorf("foreign key violation: %s", pgErr.Message)
		case "23514":
			return fmt.Errorf("check violation (%s): %s", pgErr.ConstraintName, pgErr.Message)
		case "22P02":
			return fmt.Errorf("invalid value: %s", pgErr.Message)
		}
		return fmt.Errorf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	return err
}
