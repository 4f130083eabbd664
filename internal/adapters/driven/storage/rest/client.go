package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.RemoteStore = (*Store)(nil)

// statsPageSize is the number of document ids fetched per page when counting
// distinct documents. PostgREST cannot count distinct values itself.
const statsPageSize = 1000

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4096

// Store talks to the table endpoint of a PostgREST server.
type Store struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewStore creates a REST store. The table endpoint is {URL}/rest/v1/{Table}.
func NewStore(cfg domain.RESTSettings) (*Store, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("%w: rest url and api key are required", domain.ErrConfiguration)
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid rest url %q", domain.ErrConfiguration, cfg.URL)
	}
	table := cfg.Table
	if table == "" {
		table = "document_chunks"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Store{
		endpoint: base.String() + "/rest/v1/" + url.PathEscape(table),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// row is the JSON shape of a document_chunks row.
type row struct {
	ID            string           `json:"id"`
	DocumentID    string           `json:"document_id"`
	Content       string           `json:"content"`
	Filename      string           `json:"filename"`
	PageNumber    int              `json:"page_number"`
	ChapterNumber *int             `json:"chapter_number"`
	SectionName   *string          `json:"section_name"`
	StartPos      *domain.Position `json:"start_pos"`
	EndPos        *domain.Position `json:"end_pos"`
	Embedding     []float32        `json:"embedding"`
	TokenCount    int              `json:"token_count"`
	CreatedAt     time.Time        `json:"created_at"`
}

func toRow(c domain.ChunkRecord) row {
	return row{
		ID:            c.ID,
		DocumentID:    c.DocumentID,
		Content:       c.Content,
		Filename:      c.SourceName,
		PageNumber:    c.PageNumber,
		ChapterNumber: c.ChapterNumber,
		SectionName:   c.SectionName,
		StartPos:      c.StartPosition,
		EndPos:        c.EndPosition,
		Embedding:     c.Embedding,
		TokenCount:    c.TokenCount,
		CreatedAt:     c.CreatedAt.UTC(),
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *apiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("http %d: %s", e.Status, msg)
}

// rowRejected reports whether err is a client error caused by request content.
func rowRejected(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	// 401/403 reject the credentials, not the row; 408/429 are transient.
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

// transport marks an error as a whole-call failure.
func transport(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// ==================== Chunk Store ====================

// BulkInsert upserts rows with merge-duplicates resolution.
func (s *Store) BulkInsert(ctx context.Context, records []domain.ChunkRecord) ([]domain.RowResult, error) {
	if len(records) == 0 {
		return []domain.RowResult{}, nil
	}
	rows := make([]row, len(records))
	for i := range records {
		rows[i] = toRow(records[i])
	}

	upsert := func(ctx context.Context, body any) error {
		_, err := s.do(ctx, http.MethodPost, nil, body,
			map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"})
		return err
	}

	err := upsert(ctx, rows)
	if err == nil {
		return allOK(len(rows), func(i int) string { return rows[i].ID }), nil
	}
	if !rowRejected(err) {
		return nil, transport("bulk insert", err)
	}

	// Replay one row at a time to find the offenders.
	results := make([]domain.RowResult, len(rows))
	for i := range rows {
		if err := upsert(ctx, []row{rows[i]}); err != nil {
			if !rowRejected(err) {
				return nil, transport("insert", err)
			}
			results[i] = domain.RowFailed(rows[i].ID, err)
			continue
		}
		results[i] = domain.RowOK(rows[i].ID)
	}
	return results, nil
}

// BulkUpdate patches embeddings one row at a time. PostgREST has no bulk
// update with per-row values. A row that matches nothing is not found.
func (s *Store) BulkUpdate(ctx context.Context, updates []domain.EmbeddingUpdate) ([]domain.RowResult, error) {
	results := make([]domain.RowResult, len(updates))
	for i, u := range updates {
		q := url.Values{"id": {"eq." + u.ID}, "select": {"id"}}
		body := map[string]any{"embedding": u.Embedding, "updated_at": time.Now().UTC()}

		data, err := s.do(ctx, http.MethodPatch, q, body, map[string]string{"Prefer": "return=representation"})
		if err != nil {
			if !rowRejected(err) {
				return nil, transport("update", err)
			}
			results[i] = domain.RowFailed(u.ID, err)
			continue
		}

		var matched []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &matched); err != nil {
			return nil, transport("update", fmt.Errorf("decoding response: %w", err))
		}
		if len(matched) == 0 {
			results[i] = domain.RowFailed(u.ID, fmt.Errorf("chunk %s: %w", u.ID, domain.ErrNotFound))
			continue
		}
		results[i] = domain.RowOK(u.ID)
	}
	return results, nil
}

// BulkDelete removes rows with one id=in.(...) filter. Absent ids succeed.
func (s *Store) BulkDelete(ctx context.Context, ids []string) ([]domain.RowResult, error) {
	if len(ids) == 0 {
		return []domain.RowResult{}, nil
	}

	del := func(ctx context.Context, ids []string) error {
		_, err := s.do(ctx, http.MethodDelete, url.Values{"id": {inFilter(ids)}}, nil,
			map[string]string{"Prefer": "return=minimal"})
		return err
	}

	err := del(ctx, ids)
	if err == nil {
		return allOK(len(ids), func(i int) string { return ids[i] }), nil
	}
	if !rowRejected(err) {
		return nil, transport("bulk delete", err)
	}

	results := make([]domain.RowResult, len(ids))
	for i, id := range ids {
		if err := del(ctx, []string{id}); err != nil {
			if !rowRejected(err) {
				return nil, transport("delete", err)
			}
			results[i] = domain.RowFailed(id, err)
			continue
		}
		results[i] = domain.RowOK(id)
	}
	return results, nil
}

// ExistenceCheck returns the stored subset of ids.
func (s *Store) ExistenceCheck(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	data, err := s.do(ctx, http.MethodGet, url.Values{"select": {"id"}, "id": {inFilter(ids)}}, nil, nil)
	if err != nil {
		return nil, transport("existence check", err)
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, transport("existence check", fmt.Errorf("decoding response: %w", err))
	}
	found := make([]string, len(rows))
	for i, r := range rows {
		found[i] = r.ID
	}
	return found, nil
}

// AggregateStats counts rows exactly and distinct documents by paging
// through document ids.
func (s *Store) AggregateStats(ctx context.Context) (domain.StoreTotals, error) {
	parents := make(map[string]struct{})
	total := -1

	for offset := 0; ; offset += statsPageSize {
		q := url.Values{
			"select": {"document_id"},
			"order":  {"document_id"},
			"limit":  {strconv.Itoa(statsPageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		headers := map[string]string{}
		if total < 0 {
			headers["Prefer"] = "count=exact"
		}

		data, resp, err := s.doResponse(ctx, http.MethodGet, q, nil, headers)
		if err != nil {
			return domain.StoreTotals{}, transport("stats", err)
		}
		if total < 0 {
			total, err = parseContentRangeTotal(resp.Header.Get("Content-Range"))
			if err != nil {
				return domain.StoreTotals{}, transport("stats", err)
			}
		}

		var page []struct {
			DocumentID string `json:"document_id"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return domain.StoreTotals{}, transport("stats", fmt.Errorf("decoding response: %w", err))
		}
		for _, r := range page {
			parents[r.DocumentID] = struct{}{}
		}
		if len(page) < statsPageSize {
			break
		}
	}

	return domain.StoreTotals{TotalRows: total, TotalParents: len(parents)}, nil
}

// Ping reads at most one row.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.do(ctx, http.MethodGet, url.Values{"select": {"id"}, "limit": {"1"}}, nil, nil); err != nil {
		return transport("ping", err)
	}
	return nil
}

func (s *Store) do(ctx context.Context, method string, q url.Values, body any, headers map[string]string) ([]byte, error) {
	data, _, err := s.doResponse(ctx, method, q, body, headers)
	return data, err
}

// doResponse sends one request and returns the body of a 2xx response.
// Other statuses are returned as *apiError.
func (s *Store) doResponse(
	ctx context.Context,
	method string,
	q url.Values,
	body any,
	headers map[string]string,
) ([]byte, *http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := s.endpoint
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, resp, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("reading response: %w", err)
	}
	return data, resp, nil
}

// inFilter builds a PostgREST in.(...) filter. Ids are UUIDs and need no quoting.
func inFilter(ids []string) string {
	return "in.(" + strings.Join(ids, ",") + ")"
}

// parseContentRangeTotal reads the total from "0-9/42" or "*/0".
func parseContentRangeTotal(h string) (int, error) {
	_, total, ok := strings.Cut(h, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("missing exact count in Content-Range %q", h)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("parsing Content-Range %q: %w", h, err)
	}
	return n, nil
}

func allOK(n int, id func(i int) string) []domain.RowResult {
	results := make([]domain.RowResult, n)
	for i := range results {
		results[i] = domain.RowOK(id(i))
	}
	return results
}
