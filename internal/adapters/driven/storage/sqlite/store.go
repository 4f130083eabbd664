package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
)

// jsonNull is the JSON representation of null.
const jsonNull = "null"

// Ensure Store implements the interface.
var _ driven.RemoteStore = (*Store)(nil)

// Store is a SQLite-backed chunk store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.chunkstore/data/chunks.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".chunkstore", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "chunks.db")

	// WAL for concurrent readers; immediate transactions so concurrent
	// sub-batches queue on busy_timeout instead of failing on lock upgrade.
	db, err := sql.Open("sqlite",
		dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if err := s.applyMigration(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// applyMigration runs one migration and records its version atomically.
func (s *Store) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(content); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("getting schema version: %w", err)
	}
	return v, nil
}

// ==================== Chunk Store ====================

// BulkInsert upserts rows in one transaction. Each row runs under its own
// savepoint so a rejected row does not abort its siblings.
func (s *Store) BulkInsert(ctx context.Context, rows []domain.ChunkRecord) ([]domain.RowResult, error) {
	return s.perRow(ctx, len(rows), `
		INSERT INTO document_chunks (id, document_id, content, filename, page_number, chapter_number,
			section_name, start_pos, end_pos, embedding, token_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			content = excluded.content,
			filename = excluded.filename,
			page_number = excluded.page_number,
			chapter_number = excluded.chapter_number,
			section_name = excluded.section_name,
			start_pos = excluded.start_pos,
			end_pos = excluded.end_pos,
			embedding = excluded.embedding,
			token_count = excluded.token_count,
			updated_at = excluded.updated_at
	`, func(ctx context.Context, stmt *sql.Stmt, i int) domain.RowResult {
		c := rows[i]
		startPos, err := marshalPosition(c.StartPosition)
		if err != nil {
			return domain.RowFailed(c.ID, err)
		}
		endPos, err := marshalPosition(c.EndPosition)
		if err != nil {
			return domain.RowFailed(c.ID, err)
		}

		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Content, c.SourceName, c.PageNumber,
			c.ChapterNumber, c.SectionName, startPos, endPos, float32SliceToBytes(c.Embedding),
			c.TokenCount, c.CreatedAt.UTC(), time.Now().UTC()); err != nil {
			return domain.RowFailed(c.ID, fmt.Errorf("saving chunk: %w", err))
		}
		return domain.RowOK(c.ID)
	})
}

// BulkUpdate replaces embeddings. A missing id is a row failure.
func (s *Store) BulkUpdate(ctx context.Context, updates []domain.EmbeddingUpdate) ([]domain.RowResult, error) {
	return s.perRow(ctx, len(updates), `
		UPDATE document_chunks SET embedding = ?, updated_at = ? WHERE id = ?
	`, func(ctx context.Context, stmt *sql.Stmt, i int) domain.RowResult {
		u := updates[i]
		res, err := stmt.ExecContext(ctx, float32SliceToBytes(u.Embedding), time.Now().UTC(), u.ID)
		if err != nil {
			return domain.RowFailed(u.ID, fmt.Errorf("updating embedding: %w", err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.RowFailed(u.ID, fmt.Errorf("chunk %s: %w", u.ID, domain.ErrNotFound))
		}
		return domain.RowOK(u.ID)
	})
}

// BulkDelete removes rows. Absent ids succeed.
func (s *Store) BulkDelete(ctx context.Context, ids []string) ([]domain.RowResult, error) {
	return s.perRow(ctx, len(ids), `
		DELETE FROM document_chunks WHERE id = ?
	`, func(ctx context.Context, stmt *sql.Stmt, i int) domain.RowResult {
		if _, err := stmt.ExecContext(ctx, ids[i]); err != nil {
			return domain.RowFailed(ids[i], fmt.Errorf("deleting chunk: %w", err))
		}
		return domain.RowOK(ids[i])
	})
}

// ExistenceCheck returns the stored subset of ids.
func (s *Store) ExistenceCheck(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT id FROM document_chunks WHERE id IN (" + placeholders(len(ids)) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunk ids: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var found []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		found = append(found, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk ids: %w", err)
	}
	return found, nil
}

// AggregateStats counts rows and distinct documents.
func (s *Store) AggregateStats(ctx context.Context) (domain.StoreTotals, error) {
	var totals domain.StoreTotals
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT document_id) FROM document_chunks",
	).Scan(&totals.TotalRows, &totals.TotalParents)
	if err != nil {
		return domain.StoreTotals{}, fmt.Errorf("%w: counting chunks: %v", domain.ErrStoreUnavailable, err)
	}
	return totals, nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.ChunkRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, filename, page_number, chapter_number, section_name,
			start_pos, end_pos, embedding, token_count, created_at
		FROM document_chunks WHERE id = ?
	`, id)

	return scanChunkRow(row)
}

// perRow runs exec for n rows inside one transaction, isolating each row in
// a savepoint. Errors from the transaction itself fail the whole call.
func (s *Store) perRow(
	ctx context.Context,
	n int,
	query string,
	exec func(ctx context.Context, stmt *sql.Stmt, i int) domain.RowResult,
) ([]domain.RowResult, error) {
	if n == 0 {
		return []domain.RowResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning transaction: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	results := make([]domain.RowResult, n)
	for i := 0; i < n; i++ {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT chunk_row"); err != nil {
			return nil, fmt.Errorf("%w: savepoint: %v", domain.ErrStoreUnavailable, err)
		}

		results[i] = exec(ctx, stmt, i)
		if results[i].OK() {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk_row"); err != nil {
				return nil, fmt.Errorf("%w: release savepoint: %v", domain.ErrStoreUnavailable, err)
			}
			continue
		}

		// A cancelled context surfaces as a row error; treat it as a call failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT chunk_row"); err != nil {
			return nil, fmt.Errorf("%w: rollback to savepoint: %v", domain.ErrStoreUnavailable, err)
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk_row"); err != nil {
			return nil, fmt.Errorf("%w: release savepoint: %v", domain.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: committing transaction: %v", domain.ErrStoreUnavailable, err)
	}
	return results, nil
}

// ==================== Helper Functions ====================

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// marshalPosition encodes a position as JSON text, or NULL when absent.
func marshalPosition(p *domain.Position) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling position: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalPosition decodes JSON text written by marshalPosition.
func unmarshalPosition(s sql.NullString) (*domain.Position, error) {
	if !s.Valid || s.String == "" || s.String == jsonNull {
		return nil, nil
	}
	var p domain.Position
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, fmt.Errorf("unmarshaling position: %w", err)
	}
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// scanChunkRow scans a chunk from *sql.Row.
func scanChunkRow(row *sql.Row) (*domain.ChunkRecord, error) {
	var (
		f         domain.ChunkFields
		chapter   sql.NullInt64
		section   sql.NullString
		startPos  sql.NullString
		endPos    sql.NullString
		blob      []byte
		createdAt time.Time
	)

	if err := row.Scan(&f.ID, &f.DocumentID, &f.Content, &f.SourceName, &f.PageNumber,
		&chapter, &section, &startPos, &endPos, &blob, &f.TokenCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	if chapter.Valid {
		n := int(chapter.Int64)
		f.ChapterNumber = &n
	}
	if section.Valid {
		f.SectionName = &section.String
	}

	var err error
	if f.StartPosition, err = unmarshalPosition(startPos); err != nil {
		return nil, err
	}
	if f.EndPosition, err = unmarshalPosition(endPos); err != nil {
		return nil, err
	}
	f.Embedding = bytesToFloat32Slice(blob)

	chunk := domain.RestoreChunkRecord(f, createdAt.UTC())
	return &chunk, nil
}
