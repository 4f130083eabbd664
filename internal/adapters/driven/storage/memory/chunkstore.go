package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
)

// Ensure ChunkStore implements the interface.
var _ driven.RemoteStore = (*ChunkStore)(nil)

// Op names a RemoteStore operation for call recording and fault injection.
type Op string

// Recorded operations.
const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpExistence Op = "existence"
	OpStats     Op = "stats"
	OpPing      Op = "ping"
)

// Hook runs at the start of every store call, before any fault is applied.
// call is the 1-based sequence number of the call for that operation.
type Hook func(ctx context.Context, op Op, call int)

// ChunkStore is an in-memory implementation of driven.RemoteStore.
// Besides backing the memory backend it supports fault injection, which
// engine tests use to simulate row rejections and transport failures.
type ChunkStore struct {
	mu        sync.RWMutex
	rows      map[string]domain.ChunkRecord
	calls     map[Op][][]string
	callFault map[Op]map[int]error
	opFault   map[Op]error
	rowFault  map[string]error
	hook      Hook
	closed    bool
}

// NewChunkStore creates a new in-memory chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		rows:      make(map[string]domain.ChunkRecord),
		calls:     make(map[Op][][]string),
		callFault: make(map[Op]map[int]error),
		opFault:   make(map[Op]error),
		rowFault:  make(map[string]error),
	}
}

// FailCall makes the n-th call (1-based) of op fail at the transport level.
func (s *ChunkStore) FailCall(op Op, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callFault[op] == nil {
		s.callFault[op] = make(map[int]error)
	}
	s.callFault[op][n] = err
}

// FailAll makes every call of op fail at the transport level.
// A nil err clears the fault.
func (s *ChunkStore) FailAll(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.opFault, op)
		return
	}
	s.opFault[op] = err
}

// RejectRow makes every bulk call reject the row with the given id.
func (s *ChunkStore) RejectRow(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowFault[id] = err
}

// SetHook installs a hook that runs at the start of every call.
func (s *ChunkStore) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Calls returns the ids passed to each call of op, in call order.
func (s *ChunkStore) Calls(op Op) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, len(s.calls[op]))
	copy(out, s.calls[op])
	return out
}

// Len returns the number of stored rows.
func (s *ChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Get returns a stored row.
func (s *ChunkStore) Get(id string) (domain.ChunkRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	return row, ok
}

// begin records a call, runs the hook and returns any injected transport fault.
func (s *ChunkStore) begin(ctx context.Context, op Op, ids []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}
	s.calls[op] = append(s.calls[op], ids)
	call := len(s.calls[op])
	hook := s.hook
	fault := s.opFault[op]
	if f, ok := s.callFault[op][call]; ok {
		fault = f
	}
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, op, call)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fault
}

// BulkInsert upserts rows.
func (s *ChunkStore) BulkInsert(ctx context.Context, rows []domain.ChunkRecord) ([]domain.RowResult, error) {
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	if err := s.begin(ctx, OpInsert, ids); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]domain.RowResult, len(rows))
	for i := range rows {
		if err := s.rowFault[rows[i].ID]; err != nil {
			results[i] = domain.RowFailed(rows[i].ID, err)
			continue
		}
		s.rows[rows[i].ID] = rows[i]
		results[i] = domain.RowOK(rows[i].ID)
	}
	return results, nil
}

// BulkUpdate replaces embeddings of existing rows.
func (s *ChunkStore) BulkUpdate(ctx context.Context, updates []domain.EmbeddingUpdate) ([]domain.RowResult, error) {
	ids := make([]string, len(updates))
	for i := range updates {
		ids[i] = updates[i].ID
	}
	if err := s.begin(ctx, OpUpdate, ids); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]domain.RowResult, len(updates))
	for i, u := range updates {
		if err := s.rowFault[u.ID]; err != nil {
			results[i] = domain.RowFailed(u.ID, err)
			continue
		}
		row, ok := s.rows[u.ID]
		if !ok {
			results[i] = domain.RowFailed(u.ID, fmt.Errorf("chunk %s: %w", u.ID, domain.ErrNotFound))
			continue
		}
		row.Embedding = domain.CopyEmbedding(u.Embedding)
		s.rows[u.ID] = row
		results[i] = domain.RowOK(u.ID)
	}
	return results, nil
}

// BulkDelete removes rows. Absent ids succeed.
func (s *ChunkStore) BulkDelete(ctx context.Context, ids []string) ([]domain.RowResult, error) {
	if err := s.begin(ctx, OpDelete, ids); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]domain.RowResult, len(ids))
	for i, id := range ids {
		if err := s.rowFault[id]; err != nil {
			results[i] = domain.RowFailed(id, err)
			continue
		}
		delete(s.rows, id)
		results[i] = domain.RowOK(id)
	}
	return results, nil
}

// ExistenceCheck returns the stored subset of ids.
func (s *ChunkStore) ExistenceCheck(ctx context.Context, ids []string) ([]string, error) {
	if err := s.begin(ctx, OpExistence, ids); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []string
	for _, id := range ids {
		if _, ok := s.rows[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

// AggregateStats counts rows and distinct documents.
func (s *ChunkStore) AggregateStats(ctx context.Context) (domain.StoreTotals, error) {
	if err := s.begin(ctx, OpStats, nil); err != nil {
		return domain.StoreTotals{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	parents := make(map[string]struct{})
	for _, row := range s.rows {
		parents[row.DocumentID] = struct{}{}
	}
	return domain.StoreTotals{TotalRows: len(s.rows), TotalParents: len(parents)}, nil
}

// Ping reports whether the store is open.
func (s *ChunkStore) Ping(ctx context.Context) error {
	return s.begin(ctx, OpPing, nil)
}

// Close marks the store closed. Subsequent calls fail.
func (s *ChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
