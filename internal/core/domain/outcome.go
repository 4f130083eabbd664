package domain

// FailureKind classifies why a record in a batch did not commit.
type FailureKind string

// Failure kinds reported in a BatchOutcome.
const (
	// FailureValidation is a local invariant violation. The record never
	// reached the store.
	FailureValidation FailureKind = "validation"

	// FailureStore is a rejection or transport error from the remote store.
	FailureStore FailureKind = "store"

	// FailureCancelled means the record was not committed because the
	// operation was cancelled before its sub-batch completed.
	FailureCancelled FailureKind = "cancelled"
)

// String returns the string representation.
func (k FailureKind) String() string {
	return string(k)
}

// Failure describes one failed record.
type Failure struct {
	ID      string      `json:"id"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Error returns the prefixed message as it appears in BatchOutcome.Errors.
func (f Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// BatchOutcome is the aggregate result of a batch storage operation.
// Every failure appends to FailedIDs, Errors and Failures together, so the
// three slices are index-aligned.
type BatchOutcome struct {
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	TotalCount   int       `json:"total_count"`
	FailedIDs    []string  `json:"failed_ids"`
	Errors       []string  `json:"errors"`
	Failures     []Failure `json:"failures"`
}

// NewBatchOutcome returns an empty outcome.
func NewBatchOutcome() *BatchOutcome {
	return &BatchOutcome{
		FailedIDs: []string{},
		Errors:    []string{},
		Failures:  []Failure{},
	}
}

// AddSuccess records n committed records.
func (o *BatchOutcome) AddSuccess(n int) {
	o.SuccessCount += n
	o.TotalCount += n
}

// AddFailure records one failed record.
func (o *BatchOutcome) AddFailure(id string, kind FailureKind, message string) {
	f := Failure{ID: id, Kind: kind, Message: message}
	o.FailureCount++
	o.TotalCount++
	o.FailedIDs = append(o.FailedIDs, id)
	o.Errors = append(o.Errors, f.Error())
	o.Failures = append(o.Failures, f)
}

// Merge appends other's counts and failures after o's, preserving order.
func (o *BatchOutcome) Merge(other *BatchOutcome) {
	if other == nil {
		return
	}
	o.SuccessCount += other.SuccessCount
	o.FailureCount += other.FailureCount
	o.TotalCount += other.TotalCount
	o.FailedIDs = append(o.FailedIDs, other.FailedIDs...)
	o.Errors = append(o.Errors, other.Errors...)
	o.Failures = append(o.Failures, other.Failures...)
}

// SuccessRate returns SuccessCount/TotalCount, or 1.0 for an empty batch.
func (o *BatchOutcome) SuccessRate() float64 {
	if o.TotalCount == 0 {
		return 1.0
	}
	return float64(o.SuccessCount) / float64(o.TotalCount)
}

// IsCompleteSuccess is true when at least one record was processed and none failed.
func (o *BatchOutcome) IsCompleteSuccess() bool {
	return o.FailureCount == 0 && o.TotalCount > 0
}

// IsCompleteFailure is true when at least one record was processed and none succeeded.
func (o *BatchOutcome) IsCompleteFailure() bool {
	return o.SuccessCount == 0 && o.TotalCount > 0
}

// FailuresOfKind returns the failures of the given kind, in order.
func (o *BatchOutcome) FailuresOfKind(kind FailureKind) []Failure {
	var out []Failure
	for _, f := range o.Failures {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
