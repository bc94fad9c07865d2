// Package batch describes per-listing outcomes of bulk index writes.
package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK ItemStatus = "ok"
	// StatusSkipped marks a listing that could not be mapped to a document.
	StatusSkipped ItemStatus = "skipped"
	StatusError   ItemStatus = "error"
)

// Result is the outcome of processing one listing in a bulk write.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewOK creates a successful batch result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewSkipped creates a result for a listing left out of the batch.
func NewSkipped(id string, err error) Result { return Result{id: id, status: StatusSkipped, err: err} }

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the listing identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Summary counts outcomes of one or more batches.
type Summary struct {
	Indexed int
	Skipped int
	Failed  int
	// FailedIDs lists listings whose write failed, in batch order.
	FailedIDs []string
}

// Add folds results into the summary.
func (s *Summary) Add(results []Result) {
	for _, r := range results {
		switch r.status {
		case StatusOK:
			s.Indexed++
		case StatusSkipped:
			s.Skipped++
		case StatusError:
			s.Failed++
			s.FailedIDs = append(s.FailedIDs, r.id)
		}
	}
}

// Merge adds another summary into s.
func (s *Summary) Merge(o Summary) {
	s.Indexed += o.Indexed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.FailedIDs = append(s.FailedIDs, o.FailedIDs...)
}
