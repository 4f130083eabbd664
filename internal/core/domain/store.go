package domain

import "time"

// RowResult is the store's verdict on a single row of a bulk call.
// A nil Err means the row was committed.
type RowResult struct {
	ID  string
	Err error
}

// OK reports whether the row was committed.
func (r RowResult) OK() bool {
	return r.Err == nil
}

// RowOK returns a successful RowResult.
func RowOK(id string) RowResult {
	return RowResult{ID: id}
}

// RowFailed returns a failed RowResult.
func RowFailed(id string, err error) RowResult {
	return RowResult{ID: id, Err: err}
}

// StoreTotals are the raw aggregate counts reported by a store.
type StoreTotals struct {
	TotalRows    int
	TotalParents int
}

// StatsSnapshot summarises storage state at the time of the query.
type StatsSnapshot struct {
	TotalChunks          int       `json:"total_chunks"`
	TotalDocuments       int       `json:"total_documents"`
	AvgChunksPerDocument float64   `json:"avg_chunks_per_document"`
	SubBatchSize         int       `json:"sub_batch_size"`
	QueriedAt            time.Time `json:"queried_at"`
}
