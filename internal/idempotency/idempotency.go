// Package idempotency provides a once-guard for operations that must not
// run twice, such as committing an order's stock deduction when the payment
// authority's confirmation callback fires more than once.
package idempotency

import "context"

// Guard marks an operation key as taken. Acquire returns false when the key
// was already taken by an earlier (or concurrent) caller. Release frees the
// key so a failed operation can be retried.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
