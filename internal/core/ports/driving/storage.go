package driving

import (
	"context"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

// ChunkStorage is the batch storage API used by the CLI, the MCP server
// and the inbox watcher.
//
// Per-record problems never surface as errors: they are folded into the
// returned BatchOutcome. Only domain.ErrConfiguration aborts a call.
type ChunkStorage interface {
	// SaveChunksBatch validates and upserts chunks.
	SaveChunksBatch(ctx context.Context, records []domain.ChunkRecord) (*domain.BatchOutcome, error)

	// UpdateEmbeddingsBatch replaces embeddings of existing chunks.
	UpdateEmbeddingsBatch(ctx context.Context, updates []domain.EmbeddingUpdate) (*domain.BatchOutcome, error)

	// DeleteChunksBatch removes chunks by id. Absent ids count as success.
	DeleteChunksBatch(ctx context.Context, ids []string) (*domain.BatchOutcome, error)

	// CheckDuplicates returns the ids that already exist. Order is unspecified.
	CheckDuplicates(ctx context.Context, ids []string) ([]string, error)

	// GetStorageStats queries current storage totals.
	GetStorageStats(ctx context.Context) (*domain.StatsSnapshot, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
