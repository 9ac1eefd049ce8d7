package admission

import (
	"context"

	"github.com/google/uuid"

	"github.com/crewboard/crewboard/pkg/model"
)

// OrderStore is the slice of order storage the engine needs. Implementations
// must return ErrNotFound for missing orders and may wrap transient failures
// in ErrStoreUnavailable.
type OrderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// TransitionStatus atomically moves the order from one status to
	// another and reports whether the write applied. A false return with a
	// nil error means the order was no longer in the expected status —
	// the caller lost the race or the transition already happened.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) (bool, error)
}

// ApplicationStore persists workers' claims against orders.
type ApplicationStore interface {
	// Find returns the live entry for (orderID, workerID), or nil when the
	// worker has none.
	Find(ctx context.Context, orderID, workerID uuid.UUID) (*model.Application, error)

	// Create inserts a new entry. A unique-violation on (orderID, workerID)
	// surfaces as ErrConflict.
	Create(ctx context.Context, app *model.Application) error

	Count(ctx context.Context, orderID uuid.UUID) (int, error)
	CountByStatus(ctx context.Context, orderID uuid.UUID, status model.ApplicationStatus) (int, error)

	// TransitionStatus updates the entry's status only if it still holds
	// the expected one, reporting whether the write applied.
	TransitionStatus(ctx context.Context, orderID, workerID uuid.UUID, from, to model.ApplicationStatus) (bool, error)

	// RejectPending bulk-transitions every pending entry of the order to
	// rejected, returning how many rows changed. Safe to retry.
	RejectPending(ctx context.Context, orderID uuid.UUID) (int64, error)

	// Delete removes the worker's queued entry, reporting whether one
	// existed. Entries in any other status stay put; terminal decisions
	// are not undone by the queue surface.
	Delete(ctx context.Context, orderID, workerID uuid.UUID) (bool, error)

	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Application, error)
}

// ProfileStore resolves a worker's declared category for the FIFO policy's
// type check.
type ProfileStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*model.WorkerProfile, error)
}

// EventRecorder appends an outbox row. Recording failures must not abort the
// admission decision that already committed; the engine logs and moves on.
type EventRecorder interface {
	Record(ctx context.Context, event *model.OrderEvent) error
}

// SweepStore exposes the reconciliation queries: orders in a terminal status
// that still carry live pending entries, and orders stuck open with their
// quota already met because the fill write never landed.
type SweepStore interface {
	StalePendingOrders(ctx context.Context, limit int) ([]uuid.UUID, error)
	StalledFillOrders(ctx context.Context, limit int) ([]uuid.UUID, error)
}
