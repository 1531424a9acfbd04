package store

// Store persists retrieval result records.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if the record doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveResult atomically saves the record for runID, overwriting any
	// earlier record of the same run.
	SaveResult(runID string, record *Record) error

	// LoadResult retrieves the record for runID.
	// Returns ErrNotFound if no record exists.
	LoadResult(runID string) (*Record, error)

	// ListResults returns metadata for all stored runs, oldest first.
	ListResults() ([]RecordInfo, error)

	// DeleteResult removes the run directory: result.json and trace.jsonl.
	// Returns ErrNotFound if the run does not exist.
	DeleteResult(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
