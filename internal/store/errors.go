package store

import "github.com/rotisserie/eris"

// Sentinel errors returned by store implementations. Callers match them
// with errors.Is; the wrapped message carries the detail.
var (
	// ErrNotFound means the requested run or record does not exist.
	ErrNotFound = eris.New("not found")

	// ErrConflict means a concurrent writer won the race for this lineage
	// version or the run already reached a terminal status. The operation
	// can be retried against fresh state.
	ErrConflict = eris.New("concurrent modification conflict")

	// ErrValidation means the draft payload is unusable as a golden record.
	ErrValidation = eris.New("validation failed")
)
