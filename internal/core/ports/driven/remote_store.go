package driven

import (
	"context"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

// RemoteStore is the vector-capable store the batch engine writes to.
//
// Bulk methods return exactly one RowResult per input element, in input
// order. A non-nil error means the call failed at the transport level
// (network, auth, timeout) and no per-row verdict is available; the engine
// treats every row of that call as failed.
//
// Implementations must be idempotent per id: BulkInsert upserts, BulkUpdate
// targets rows by id, and BulkDelete reports absent ids as success. The
// engine and any retry wrapper rely on this to resubmit safely.
type RemoteStore interface {
	// BulkInsert upserts chunk rows keyed by id.
	BulkInsert(ctx context.Context, rows []domain.ChunkRecord) ([]domain.RowResult, error)

	// BulkUpdate replaces embeddings of existing rows.
	// Rows that do not exist fail with domain.ErrNotFound.
	BulkUpdate(ctx context.Context, updates []domain.EmbeddingUpdate) ([]domain.RowResult, error)

	// BulkDelete removes rows by id.
	BulkDelete(ctx context.Context, ids []string) ([]domain.RowResult, error)

	// ExistenceCheck returns the subset of ids that are stored.
	// Order is unspecified.
	ExistenceCheck(ctx context.Context, ids []string) ([]string, error)

	// AggregateStats counts stored rows and distinct parent documents.
	AggregateStats(ctx context.Context) (domain.StoreTotals, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
