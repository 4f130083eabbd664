package resilient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

var errTransient = fmt.Errorf("%w: connection reset", domain.ErrStoreUnavailable)

// newTestStore wraps a memory store and records backoff delays instead of sleeping.
func newTestStore(cfg Config) (*Store, *memory.ChunkStore, *[]time.Duration) {
	inner := memory.NewChunkStore()
	s := New(inner, cfg)
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return s, inner, &slept
}

func chunk() domain.ChunkRecord {
	return domain.NewChunkRecord(domain.ChunkFields{
		ID:         uuid.NewString(),
		DocumentID: uuid.NewString(),
		Content:    "x",
		SourceName: "a.pdf",
		PageNumber: 1,
		Embedding:  []float32{1},
		TokenCount: 1,
	})
}

func TestStore_RetriesTransportFailures(t *testing.T) {
	s, inner, slept := newTestStore(Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})
	inner.FailCall(memory.OpInsert, 1, errTransient)
	inner.FailCall(memory.OpInsert, 2, errTransient)

	results, err := s.BulkInsert(context.Background(), []domain.ChunkRecord{chunk()})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Len(t, inner.Calls(memory.OpInsert), 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestStore_GivesUpAfterMaxAttempts(t *testing.T) {
	s, inner, _ := newTestStore(Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	inner.FailAll(memory.OpDelete, errTransient)

	_, err := s.BulkDelete(context.Background(), []string{uuid.NewString()})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Len(t, inner.Calls(memory.OpDelete), 3)
}

func TestStore_RowFailuresAreNotRetried(t *testing.T) {
	s, inner, slept := newTestStore(Config{MaxAttempts: 5, BaseDelay: time.Millisecond})
	rec := chunk()
	inner.RejectRow(rec.ID, errors.New("check violation"))

	results, err := s.BulkInsert(context.Background(), []domain.ChunkRecord{rec})

	require.NoError(t, err)
	assert.False(t, results[0].OK())
	assert.Len(t, inner.Calls(memory.OpInsert), 1)
	assert.Empty(t, *slept)
}

func TestStore_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"configuration", fmt.Errorf("%w: bad table", domain.ErrConfiguration)},
		{"cancelled", context.Canceled},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, inner, _ := newTestStore(Config{MaxAttempts: 4})
			inner.FailAll(memory.OpStats, tt.err)

			_, err := s.AggregateStats(context.Background())

			assert.ErrorIs(t, err, tt.err)
			assert.Len(t, inner.Calls(memory.OpStats), 1)
		})
	}
}

func TestStore_CancelledDuringBackoff(t *testing.T) {
	s, inner, _ := newTestStore(Config{MaxAttempts: 5, BaseDelay: time.Hour})
	inner.FailAll(memory.OpExistence, errTransient)
	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := s.ExistenceCheck(ctx, []string{uuid.NewString()})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "retry abandoned")
	assert.Len(t, inner.Calls(memory.OpExistence), 1)
}

func TestStore_SingleAttempt(t *testing.T) {
	s, inner, _ := newTestStore(Config{})
	inner.FailCall(memory.OpUpdate, 1, errTransient)

	_, err := s.BulkUpdate(context.Background(), nil)

	assert.Equal(t, errTransient, err)
	assert.Len(t, inner.Calls(memory.OpUpdate), 1)
}

func TestStore_RateLimiter(t *testing.T) {
	s, inner, _ := newTestStore(Config{MaxAttempts: 1, RatePerSecond: 1000, Burst: 2})
	require.NotNil(t, s.limiter)

	for i := 0; i < 5; i++ {
		_, err := s.AggregateStats(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, inner.Calls(memory.OpStats), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AggregateStats(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestStore_PingAndCloseForward(t *testing.T) {
	s, inner, _ := newTestStore(Config{MaxAttempts: 3})

	assert.NoError(t, s.Ping(context.Background()))
	assert.Len(t, inner.Calls(memory.OpPing), 1)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrStoreUnavailable)
}

func TestBackoff(t *testing.T) {
	s := New(memory.NewChunkStore(), Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{30, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(domain.RetrySettings{MaxAttempts: 4, BaseDelay: time.Second, RatePerSecond: 2})
	assert.Equal(t, Config{MaxAttempts: 4, BaseDelay: time.Second, RatePerSecond: 2}, cfg)
	assert.Equal(t, DefaultMaxDelay, New(memory.NewChunkStore(), cfg).maxDelay)
}
