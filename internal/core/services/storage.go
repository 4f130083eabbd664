package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driving"
	"github.com/custodia-labs/chunkstore/internal/core/validation"
	"github.com/custodia-labs/chunkstore/internal/logger"
)

// Ensure StorageEngine implements the interface.
var _ driving.ChunkStorage = (*StorageEngine)(nil)

// StorageEngine validates chunks and submits them to a RemoteStore in
// fixed-size sub-batches, folding per-row and per-sub-batch failures into a
// single BatchOutcome.
//
// The engine holds no mutable state after construction, so concurrent calls
// on disjoint inputs are safe. It never retries; wrap the store for that.
type StorageEngine struct {
	store        driven.RemoteStore
	subBatchSize int
	concurrency  int
	limits       domain.VectorLimits
	now          func() time.Time
}

// Option configures a StorageEngine.
type Option func(*StorageEngine)

// WithSubBatchSize sets the number of rows per bulk store call.
func WithSubBatchSize(n int) Option {
	return func(e *StorageEngine) { e.subBatchSize = n }
}

// WithConcurrency sets how many sub-batches may be in flight at once.
// 1 submits them sequentially.
func WithConcurrency(n int) Option {
	return func(e *StorageEngine) { e.concurrency = n }
}

// WithVectorLimits sets the embedding dimension and norm ceiling.
func WithVectorLimits(l domain.VectorLimits) Option {
	return func(e *StorageEngine) { e.limits = l }
}

// WithClock overrides the clock used to stamp statistics snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *StorageEngine) { e.now = now }
}

// NewStorageEngine creates a storage engine for the given store.
// Configuration problems are reported as domain.ErrConfiguration.
func NewStorageEngine(store driven.RemoteStore, opts ...Option) (*StorageEngine, error) {
	e := &StorageEngine{
		store:        store,
		subBatchSize: domain.DefaultSubBatchSize,
		concurrency:  domain.DefaultConcurrency,
		limits:       domain.DefaultVectorLimits(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, fmt.Errorf("%w: remote store is required", domain.ErrConfiguration)
	}
	if e.subBatchSize <= 0 {
		return nil, fmt.Errorf("%w: sub-batch size must be > 0, got %d", domain.ErrConfiguration, e.subBatchSize)
	}
	if e.concurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency must be > 0, got %d", domain.ErrConfiguration, e.concurrency)
	}
	if e.limits.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be > 0, got %d", domain.ErrConfiguration, e.limits.Dimensions)
	}
	if !validMaxNorm(e.limits.MaxNorm) {
		return nil, fmt.Errorf("%w: embedding max norm must be a finite number > 0, got %g", domain.ErrConfiguration, e.limits.MaxNorm)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// SubBatchSize returns the configured sub-batch size.
func (e *StorageEngine) SubBatchSize() int {
	return e.subBatchSize
}

// SaveChunksBatch validates records and upserts the valid ones.
func (e *StorageEngine) SaveChunksBatch(
	ctx context.Context,
	records []domain.ChunkRecord,
) (*domain.BatchOutcome, error) {
	return runBatch(ctx, e, batchOp[domain.ChunkRecord]{
		name: "save",
		id:   func(r domain.ChunkRecord) string { return r.ID },
		validate: func(r domain.ChunkRecord) error {
			return validation.ValidateChunk(r, e.limits)
		},
		submit: e.store.BulkInsert,
	}, records), nil
}

// UpdateEmbeddingsBatch validates ids and vectors and replaces embeddings.
// Content, page and position fields are not checked because they are not touched.
func (e *StorageEngine) UpdateEmbeddingsBatch(
	ctx context.Context,
	updates []domain.EmbeddingUpdate,
) (*domain.BatchOutcome, error) {
	return runBatch(ctx, e, batchOp[domain.EmbeddingUpdate]{
		name: "update",
		id:   func(u domain.EmbeddingUpdate) string { return u.ID },
		validate: func(u domain.EmbeddingUpdate) error {
			return validation.ValidateEmbeddingUpdate(u, e.limits)
		},
		submit: e.store.BulkUpdate,
	}, updates), nil
}

// DeleteChunksBatch removes chunks by id. Ids that are already absent count
// as success unless the store reports an actual error.
func (e *StorageEngine) DeleteChunksBatch(ctx context.Context, ids []string) (*domain.BatchOutcome, error) {
	return runBatch(ctx, e, batchOp[string]{
		name:     "delete",
		id:       func(id string) string { return id },
		validate: validation.ValidateID,
		submit:   e.store.BulkDelete,
	}, ids), nil
}

// CheckDuplicates returns the ids that already exist in the store.
// Malformed ids cannot exist and are skipped. Lookups are partitioned by
// sub-batch size to stay under store parameter limits. Order is unspecified.
func (e *StorageEngine) CheckDuplicates(ctx context.Context, ids []string) ([]string, error) {
	valid := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if validation.ValidateID(id) != nil {
			logger.Debug("Duplicate check: skipping malformed id %q", id)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}

	existing := make([]string, 0)
	for i, batch := range Partition(valid, e.subBatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("checking duplicates (lookup %d): %w", i+1, interrupted(ctx, err))
		}
		found, err := e.store.ExistenceCheck(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("checking duplicates (lookup %d): %w", i+1, interrupted(ctx, err))
		}
		existing = append(existing, found...)
	}

	logger.Info("Duplicate check: %d/%d ids already stored", len(existing), len(ids))
	return existing, nil
}

// GetStorageStats queries the store for current totals. Nothing is cached.
func (e *StorageEngine) GetStorageStats(ctx context.Context) (*domain.StatsSnapshot, error) {
	totals, err := e.store.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying storage stats: %w", interrupted(ctx, err))
	}

	return &domain.StatsSnapshot{
		TotalChunks:          totals.TotalRows,
		TotalDocuments:       totals.TotalParents,
		AvgChunksPerDocument: averagePerParent(totals),
		SubBatchSize:         e.subBatchSize,
		QueriedAt:            e.now().UTC(),
	}, nil
}

// HealthCheck verifies the store is reachable.
func (e *StorageEngine) HealthCheck(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("store health check: %w", interrupted(ctx, err))
	}
	return nil
}

// interrupted marks err with domain.ErrCancelled when ctx is done.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, domain.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrCancelled, err)
}

func validMaxNorm(n float64) bool {
	return n > 0 && !math.IsInf(n, 1)
}

// averagePerParent returns rows per parent rounded to 2 decimals, or 0
// when there are no parents.
func averagePerParent(t domain.StoreTotals) float64 {
	if t.TotalParents == 0 {
		return 0
	}
	avg := float64(t.TotalRows) / float64(t.TotalParents)
	return math.Round(avg*100) / 100
}

// batchOp describes one mutating operation over items of type T.
type batchOp[T any] struct {
	name     string
	id       func(T) string
	validate func(T) error
	submit   func(context.Context, []T) ([]domain.RowResult, error)
}

// runBatch is the shared validate, partition, submit and merge pipeline.
// Validation failures come first in input order, followed by store results
// in sub-batch order regardless of completion order.
func runBatch[T any](ctx context.Context, e *StorageEngine, op batchOp[T], items []T) *domain.BatchOutcome {
	started := time.Now()
	outcome := domain.NewBatchOutcome()

	valid := make([]T, 0, len(items))
	for _, item := range items {
		if err := op.validate(item); err != nil {
			outcome.AddFailure(op.id(item), domain.FailureValidation, err.Error())
			logger.Warn("%s: rejected %s: %v", op.name, op.id(item), err)
			continue
		}
		valid = append(valid, item)
	}

	batches := Partition(valid, e.subBatchSize)
	logger.Info("%s: %d records, %d valid, %d sub-batches of up to %d (concurrency %d)",
		op.name, len(items), len(valid), len(batches), e.subBatchSize, e.concurrency)

	results := make([]*domain.BatchOutcome, len(batches))

	// Workers never return an error: a failed sub-batch must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = submitSubBatch(ctx, op, i, len(batches), batch)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		outcome.Merge(r)
	}

	logger.Info("%s: done in %s: %d succeeded, %d failed, success rate %.2f%%",
		op.name, time.Since(started).Round(time.Millisecond),
		outcome.SuccessCount, outcome.FailureCount, outcome.SuccessRate()*100)
	return outcome
}

// submitSubBatch sends one sub-batch and converts the store's answer into
// a partial outcome.
func submitSubBatch[T any](ctx context.Context, op batchOp[T], index, total int, batch []T) *domain.BatchOutcome {
	out := domain.NewBatchOutcome()
	label := fmt.Sprintf("sub-batch %d/%d", index+1, total)

	if err := ctx.Err(); err != nil {
		logger.Warn("%s: %s not submitted: %v", op.name, label, err)
		failAll(out, op, batch, domain.FailureCancelled, fmt.Sprintf("%s not submitted: %v", label, err))
		return out
	}

	logger.Debug("%s: submitting %s (%d rows)", op.name, label, len(batch))
	rows, err := op.submit(ctx, batch)
	if err != nil {
		kind := domain.FailureStore
		if ctx.Err() != nil {
			kind = domain.FailureCancelled
		}
		logger.Error("%s: %s failed: %v", op.name, label, err)
		failAll(out, op, batch, kind, fmt.Sprintf("%s failed: %v", label, err))
		return out
	}

	if len(rows) != len(batch) {
		logger.Error("%s: %s returned %d results for %d rows", op.name, label, len(rows), len(batch))
		failAll(out, op, batch, domain.FailureStore,
			fmt.Sprintf("%s: store returned %d results for %d rows", label, len(rows), len(batch)))
		return out
	}

	for i, row := range rows {
		if row.OK() {
			out.AddSuccess(1)
			continue
		}
		out.AddFailure(op.id(batch[i]), domain.FailureStore, row.Err.Error())
	}
	logger.Debug("%s: %s committed %d/%d rows", op.name, label, out.SuccessCount, len(batch))
	return out
}

func failAll[T any](out *domain.BatchOutcome, op batchOp[T], batch []T, kind domain.FailureKind, msg string) {
	for _, item := range batch {
		out.AddFailure(op.id(item), kind, msg)
	}
}
