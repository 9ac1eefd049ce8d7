package admission

import "errors"

var (
	// ErrNotFound covers missing orders and entries, and orders that are
	// closed to new entries (intent-hiding: callers cannot distinguish a
	// missing order from one they may not enter).
	ErrNotFound = errors.New("order not found")
	// ErrForbidden means the caller does not own the resource or lacks the
	// required role.
	ErrForbidden = errors.New("caller is not allowed to act on this order")
	// ErrConflict means a duplicate admission attempt: a live entry already
	// exists for the (order, worker) pair, or a terminal entry is being
	// re-transitioned.
	ErrConflict = errors.New("admission conflict")
	// ErrCapacityExceeded means the quota was already met at decision time.
	ErrCapacityExceeded = errors.New("order capacity exceeded")
	// ErrAlreadyClosed means the order reached a terminal status before the
	// operation could apply.
	ErrAlreadyClosed = errors.New("order already closed")
	// ErrInvalidState means the operation is not valid for the order's
	// current status, e.g. closing an order with accepted workers.
	ErrInvalidState = errors.New("operation invalid for current order state")
	// ErrWrongCategory means the worker's declared category does not match
	// the order's worker type.
	ErrWrongCategory = errors.New("worker category does not match order")
	// ErrStoreUnavailable wraps transient storage failures. All operations
	// are idempotent or re-checked, so callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether err is a transient failure worth retrying.
// The gateway maps retryable errors to 503 with a Retry-After header.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
