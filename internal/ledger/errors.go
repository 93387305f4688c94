package ledger

import "errors"

var (
	// ErrRecordNotFound means the record reference did not resolve to a row
	// in either inventory collection.
	ErrRecordNotFound = errors.New("inventory record not found")

	// ErrContentionExceeded means the per-record lock could not be acquired
	// within the wait budget. The operation applied nothing and is safe to
	// retry as a whole.
	ErrContentionExceeded = errors.New("lock contention exceeded")

	// ErrInvalidQuantity rejects zero or negative quantities before any
	// lock is taken.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)
