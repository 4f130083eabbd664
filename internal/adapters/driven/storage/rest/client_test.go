package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

const testKey = "anon-key"

// fakePostgREST serves a document_chunks table from memory. Rows whose
// content is "reject" fail with 400 the way a CHECK constraint would.
type fakePostgREST struct {
	mu       sync.Mutex
	rows     map[string]row
	requests []string
	failWith int
}

func newFakePostgREST() *fakePostgREST {
	return &fakePostgREST{rows: make(map[string]row)}
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method)

	if r.Header.Get("apikey") != testKey || r.Header.Get("Authorization") != "Bearer "+testKey {
		writeError(w, http.StatusUnauthorized, "PGRST301", "invalid key")
		return
	}
	if r.URL.Path != "/rest/v1/document_chunks" {
		writeError(w, http.StatusNotFound, "PGRST205", "unknown table")
		return
	}
	if f.failWith != 0 {
		writeError(w, f.failWith, "", "upstream unavailable")
		return
	}

	q := r.URL.Query()
	switch r.Method {
	case http.MethodPost:
		var rows []row
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			writeError(w, http.StatusBadRequest, "PGRST102", "bad json")
			return
		}
		for _, rw := range rows {
			if rw.Content == "reject" {
				writeError(w, http.StatusBadRequest, "23514", "violates check constraint")
				return
			}
		}
		for _, rw := range rows {
			f.rows[rw.ID] = rw
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodPatch:
		id := strings.TrimPrefix(q.Get("id"), "eq.")
		var patch struct {
			Embedding []float32 `json:"embedding"`
		}
		_ = json.NewDecoder(r.Body).Decode(&patch)
		out := []map[string]string{}
		if rw, ok := f.rows[id]; ok {
			rw.Embedding = patch.Embedding
			f.rows[id] = rw
			out = append(out, map[string]string{"id": id})
		}
		writeJSON(w, out)

	case http.MethodDelete:
		for _, id := range parseIn(q.Get("id")) {
			delete(f.rows, id)
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		if in := q.Get("id"); in != "" {
			out := []map[string]string{}
			for _, id := range parseIn(in) {
				if _, ok := f.rows[id]; ok {
					out = append(out, map[string]string{"id": id})
				}
			}
			writeJSON(w, out)
			return
		}
		f.serveDocumentIDs(w, q)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakePostgREST) serveDocumentIDs(w http.ResponseWriter, q map[string][]string) {
	ids := make([]string, 0, len(f.rows))
	for _, rw := range f.rows {
		ids = append(ids, rw.DocumentID)
	}
	sort.Strings(ids)

	offset, _ := strconv.Atoi(first(q["offset"]))
	limit, err := strconv.Atoi(first(q["limit"]))
	if err != nil {
		limit = len(ids)
	}
	end := min(offset+limit, len(ids))
	offset = min(offset, end)

	out := make([]map[string]string, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, map[string]string{"document_id": id})
	}
	if len(ids) == 0 {
		w.Header().Set("Content-Range", "*/0")
	} else {
		w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", offset, end-1, len(ids)))
	}
	writeJSON(w, out)
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func parseIn(filter string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(filter, "in.("), ")")
	if inner == "" {
		return nil
	}
	return strings.Split(inner, ",")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

func setupTestStore(t *testing.T) (*Store, *fakePostgREST) {
	t.Helper()
	fake := newFakePostgREST()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewStore(domain.RESTSettings{URL: srv.URL + "/", APIKey: testKey})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, fake
}

func testChunk(docID, content string) domain.ChunkRecord {
	return domain.NewChunkRecord(domain.ChunkFields{
		ID:            uuid.NewString(),
		DocumentID:    docID,
		Content:       content,
		SourceName:    "report.pdf",
		PageNumber:    4,
		StartPosition: &domain.Position{X: 1, Y: 2},
		Embedding:     []float32{0.1, 0.2, 0.3, 0.4},
		TokenCount:    3,
	})
}

func TestNewStore_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.RESTSettings
	}{
		{"missing key", domain.RESTSettings{URL: "https://x.supabase.co"}},
		{"missing url", domain.RESTSettings{APIKey: "k"}},
		{"relative url", domain.RESTSettings{URL: "x.supabase.co", APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.cfg)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}

	store, err := NewStore(domain.RESTSettings{URL: "https://x.supabase.co/", APIKey: "k", Table: "chunks"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.supabase.co/rest/v1/chunks", store.endpoint)
}

func TestStore_BulkInsert_SingleRequest(t *testing.T) {
	store, fake := setupTestStore(t)
	doc := uuid.NewString()
	records := []domain.ChunkRecord{testChunk(doc, "one"), testChunk(doc, "two")}

	results, err := store.BulkInsert(context.Background(), records)

	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.True(t, r.OK())
		assert.Equal(t, records[i].ID, r.ID)
	}
	assert.Equal(t, []string{http.MethodPost}, fake.requests)
	assert.Equal(t, "report.pdf", fake.rows[records[0].ID].Filename)
	assert.Equal(t, &domain.Position{X: 1, Y: 2}, fake.rows[records[0].ID].StartPos)
}

func TestStore_BulkInsert_FallsBackPerRow(t *testing.T) {
	store, fake := setupTestStore(t)
	doc := uuid.NewString()
	records := []domain.ChunkRecord{testChunk(doc, "ok"), testChunk(doc, "reject"), testChunk(doc, "fine")}

	results, err := store.BulkInsert(context.Background(), records)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Contains(t, results[1].Err.Error(), "http 400")
	assert.Contains(t, results[1].Err.Error(), "violates check constraint")
	assert.True(t, results[2].OK())

	// One bulk attempt then one request per row.
	assert.Len(t, fake.requests, 4)
	assert.Len(t, fake.rows, 2)
}

func TestStore_ServerErrorIsTransportFailure(t *testing.T) {
	store, fake := setupTestStore(t)
	fake.failWith = http.StatusServiceUnavailable
	ctx := context.Background()

	_, err := store.BulkInsert(ctx, []domain.ChunkRecord{testChunk(uuid.NewString(), "x")})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "http 503")

	_, err = store.BulkDelete(ctx, []string{uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.BulkUpdate(ctx, []domain.EmbeddingUpdate{domain.NewEmbeddingUpdate(uuid.NewString(), []float32{1})})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.ExistenceCheck(ctx, []string{uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.AggregateStats(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.ErrorIs(t, store.Ping(ctx), domain.ErrStoreUnavailable)
}

func TestStore_UnauthorizedIsTransportFailure(t *testing.T) {
	store, _ := setupTestStore(t)
	store.apiKey = "wrong"

	_, err := store.BulkInsert(context.Background(), []domain.ChunkRecord{testChunk(uuid.NewString(), "x")})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestStore_BulkUpdate(t *testing.T) {
	store, fake := setupTestStore(t)
	ctx := context.Background()
	rec := testChunk(uuid.NewString(), "x")
	_, err := store.BulkInsert(ctx, []domain.ChunkRecord{rec})
	require.NoError(t, err)

	results, err := store.BulkUpdate(ctx, []domain.EmbeddingUpdate{
		domain.NewEmbeddingUpdate(rec.ID, []float32{9, 9, 9, 9}),
		domain.NewEmbeddingUpdate(uuid.NewString(), []float32{1, 1, 1, 1}),
	})

	require.NoError(t, err)
	assert.True(t, results[0].OK())
	assert.ErrorIs(t, results[1].Err, domain.ErrNotFound)
	assert.Equal(t, []float32{9, 9, 9, 9}, fake.rows[rec.ID].Embedding)
}

func TestStore_BulkDelete_Idempotent(t *testing.T) {
	store, fake := setupTestStore(t)
	ctx := context.Background()
	rec := testChunk(uuid.NewString(), "x")
	_, err := store.BulkInsert(ctx, []domain.ChunkRecord{rec})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		results, err := store.BulkDelete(ctx, []string{rec.ID, uuid.NewString()})
		require.NoError(t, err)
		assert.True(t, results[0].OK())
		assert.True(t, results[1].OK())
	}
	assert.Empty(t, fake.rows)
}

func TestStore_ExistenceCheck(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	doc := uuid.NewString()
	a, b := testChunk(doc, "a"), testChunk(doc, "b")
	_, err := store.BulkInsert(ctx, []domain.ChunkRecord{a, b})
	require.NoError(t, err)

	found, err := store.ExistenceCheck(ctx, []string{a.ID, uuid.NewString(), b.ID})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, found)
}

func TestStore_AggregateStats_Pages(t *testing.T) {
	store, fake := setupTestStore(t)
	ctx := context.Background()

	totals, err := store.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StoreTotals{}, totals)

	// More rows than one page, spread over three documents.
	docs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for i := 0; i < statsPageSize+5; i++ {
		rec := testChunk(docs[i%len(docs)], "x")
		fake.rows[rec.ID] = toRow(rec)
	}

	totals, err = store.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StoreTotals{TotalRows: statsPageSize + 5, TotalParents: 3}, totals)
}

func TestStore_Ping(t *testing.T) {
	store, _ := setupTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_CancelledContext(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.BulkInsert(ctx, []domain.ChunkRecord{testChunk(uuid.NewString(), "x")})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		header  string
		want    int
		wantErr bool
	}{
		{"0-9/42", 42, false},
		{"*/0", 0, false},
		{"0-9/*", 0, true},
		{"", 0, true},
		{"0-9/abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := parseContentRangeTotal(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRowRejected(t *testing.T) {
	assert.True(t, rowRejected(&apiError{Status: 400}))
	assert.True(t, rowRejected(fmt.Errorf("wrapped: %w", &apiError{Status: 409})))
	assert.False(t, rowRejected(&apiError{Status: 401}))
	assert.False(t, rowRejected(&apiError{Status: 429}))
	assert.False(t, rowRejected(&apiError{Status: 500}))
	assert.False(t, rowRejected(context.DeadlineExceeded))
}
