// Package resilient wraps a driven.RemoteStore with throttling and bounded
// retries of transport failures.
//
// Every RemoteStore call is safe to repeat: inserts are upserts, updates
// are keyed by id and deletes are idempotent. Per-row rejections are part of
// a successful call and are never retried.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
	"github.com/custodia-labs/chunkstore/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.RemoteStore = (*Store)(nil)

// DefaultMaxDelay caps the backoff between attempts.
const DefaultMaxDelay = 10 * time.Second

// Config controls retries and throttling.
type Config struct {
	// MaxAttempts is the total number of tries per call. Values below 1 mean 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles each retry.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts. Zero means DefaultMaxDelay.
	MaxDelay time.Duration

	// RatePerSecond limits calls to the wrapped store. Zero disables throttling.
	RatePerSecond float64

	// Burst is the token bucket size. Zero means 1.
	Burst int
}

// FromSettings converts retry settings into a Config.
func FromSettings(s domain.RetrySettings) Config {
	return Config{
		MaxAttempts:   s.MaxAttempts,
		BaseDelay:     s.BaseDelay,
		RatePerSecond: s.RatePerSecond,
	}
}

// Store decorates a RemoteStore.
type Store struct {
	next        driven.RemoteStore
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New wraps next.
func New(next driven.RemoteStore, cfg Config) *Store {
	s := &Store{
		next:        next,
		maxAttempts: max(cfg.MaxAttempts, 1),
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       sleepContext,
	}
	if s.maxDelay <= 0 {
		s.maxDelay = DefaultMaxDelay
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}
	return s
}

// BulkInsert forwards with retries.
func (s *Store) BulkInsert(ctx context.Context, rows []domain.ChunkRecord) ([]domain.RowResult, error) {
	return call(ctx, s, "bulk insert", func(ctx context.Context) ([]domain.RowResult, error) {
		return s.next.BulkInsert(ctx, rows)
	})
}

// BulkUpdate forwards with retries.
func (s *Store) BulkUpdate(ctx context.Context, updates []domain.EmbeddingUpdate) ([]domain.RowResult, error) {
	return call(ctx, s, "bulk update", func(ctx context.Context) ([]domain.RowResult, error) {
		return s.next.BulkUpdate(ctx, updates)
	})
}

// BulkDelete forwards with retries.
func (s *Store) BulkDelete(ctx context.Context, ids []string) ([]domain.RowResult, error) {
	return call(ctx, s, "bulk delete", func(ctx context.Context) ([]domain.RowResult, error) {
		return s.next.BulkDelete(ctx, ids)
	})
}

// ExistenceCheck forwards with retries.
func (s *Store) ExistenceCheck(ctx context.Context, ids []string) ([]string, error) {
	return call(ctx, s, "existence check", func(ctx context.Context) ([]string, error) {
		return s.next.ExistenceCheck(ctx, ids)
	})
}

// AggregateStats forwards with retries.
func (s *Store) AggregateStats(ctx context.Context) (domain.StoreTotals, error) {
	return call(ctx, s, "aggregate stats", s.next.AggregateStats)
}

// Ping forwards once. A health check reports the current state.
func (s *Store) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// Close closes the wrapped store.
func (s *Store) Close() error {
	return s.next.Close()
}

func call[T any](ctx context.Context, s *Store, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("%s: waiting for rate limiter: %w", op, err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("%s succeeded on attempt %d", op, attempt)
			}
			return result, nil
		}
		lastErr = err

		if !retryable(ctx, err) || attempt == s.maxAttempts {
			break
		}

		delay := s.backoff(attempt)
		logger.Warn("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, s.maxAttempts, delay, err)
		if err := s.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w (retry abandoned: %v)", op, lastErr, err)
		}
	}

	if s.maxAttempts > 1 && retryable(ctx, lastErr) {
		return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, s.maxAttempts, lastErr)
	}
	return zero, lastErr
}

// backoff returns the delay after the given failed attempt.
func (s *Store) backoff(attempt int) time.Duration {
	d := s.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.maxDelay {
			return s.maxDelay
		}
	}
	return min(d, s.maxDelay)
}

// retryable reports whether err is a transport failure worth repeating.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, domain.ErrConfiguration)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
