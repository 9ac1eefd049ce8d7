package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/metrics"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/store"
)

const rejectPassAttempts = 3

// Engine enforces the order/application state machine and the quota
// invariant acceptedCount <= requiredCount under both admission policies.
// All admission-affecting operations for one order run serialized through
// the QuotaGuard; terminal status writes are additionally guarded by
// conditional store updates so a stale writer can never double-fill.
type Engine struct {
	orders   OrderStore
	apps     ApplicationStore
	profiles ProfileStore
	events   EventRecorder
	audit    store.AuditStore
	guard    *QuotaGuard
	logger   *zap.Logger
}

// AcceptResult reports the entry and quota state after an accept.
type AcceptResult struct {
	Application   *model.Application
	AcceptedCount int
	RequiredCount int
	OrderFilled   bool
}

func NewEngine(orders OrderStore, apps ApplicationStore, profiles ProfileStore, events EventRecorder, audit store.AuditStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		orders:   orders,
		apps:     apps,
		profiles: profiles,
		events:   events,
		audit:    audit,
		guard:    NewQuotaGuard(),
		logger:   logger,
	}
}

// SubmitApplication creates a pending entry on a curated order. The order
// must be open with quota remaining, and the worker must not already hold a
// live entry.
func (e *Engine) SubmitApplication(ctx context.Context, workerID, orderID uuid.UUID) (*model.Application, error) {
	unlock := e.guard.Lock(orderID)
	defer unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, wrapStore(err)
	}
	if order.Policy != model.PolicyCurated || order.Status != model.OrderOpen {
		// Closed-to-new-entries reads as not-found so callers cannot probe
		// order state they have no business seeing.
		return nil, ErrNotFound
	}

	accepted, err := e.apps.CountByStatus(ctx, orderID, model.ApplicationAccepted)
	if err != nil {
		return nil, wrapStore(err)
	}
	if accepted >= order.RequiredCount {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(order.Policy)).Inc()
		return nil, ErrCapacityExceeded
	}

	existing, err := e.apps.Find(ctx, orderID, workerID)
	if err != nil {
		return nil, wrapStore(err)
	}
	if existing != nil {
		return nil, ErrConflict
	}

	app := &model.Application{
		ID:        uuid.New(),
		OrderID:   orderID,
		WorkerID:  workerID,
		Status:    model.ApplicationPending,
		AppliedAt: time.Now().UTC(),
	}
	if err := e.apps.Create(ctx, app); err != nil {
		return nil, wrapStore(err)
	}

	metrics.AdmissionsTotal.WithLabelValues(string(order.Policy), "submitted").Inc()
	e.record(ctx, model.EventApplicationSubmitted, orderID, model.JSONB{
		"order_id":  orderID.String(),
		"worker_id": workerID.String(),
	})
	e.auditDecision(ctx, orderID, workerID, workerID, "submit", "pending", "")

	return app, nil
}

// AcceptApplication transitions one pending entry to accepted, re-checking
// the quota at transition time. Accepting an already-accepted entry is an
// idempotent success. When the accepted count reaches the quota the order is
// conditionally filled and every remaining pending entry is bulk-rejected,
// in that order.
func (e *Engine) AcceptApplication(ctx context.Context, employerID, orderID, workerID uuid.UUID) (*AcceptResult, error) {
	unlock := e.guard.Lock(orderID)
	defer unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, wrapStore(err)
	}
	if order.EmployerID != employerID {
		return nil, ErrForbidden
	}
	if order.Status.Terminal() {
		return nil, ErrAlreadyClosed
	}

	app, err := e.apps.Find(ctx, orderID, workerID)
	if err != nil {
		return nil, wrapStore(err)
	}
	if app == nil {
		return nil, ErrNotFound
	}

	if app.Status == model.ApplicationAccepted {
		// Safe no-op for retried requests.
		accepted, err := e.apps.CountByStatus(ctx, orderID, model.ApplicationAccepted)
		if err != nil {
			return nil, wrapStore(err)
		}
		return &AcceptResult{
			Application:   app,
			AcceptedCount: accepted,
			RequiredCount: order.RequiredCount,
			OrderFilled:   accepted >= order.RequiredCount,
		}, nil
	}
	if app.Status == model.ApplicationRejected {
		return nil, ErrConflict
	}

	// Quota re-checked here, not trusted from any earlier read.
	accepted, err := e.apps.CountByStatus(ctx, orderID, model.ApplicationAccepted)
	if err != nil {
		return nil, wrapStore(err)
	}
	if accepted >= order.RequiredCount {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(order.Policy)).Inc()
		return nil, ErrCapacityExceeded
	}

	ok, err := e.apps.TransitionStatus(ctx, orderID, workerID, model.ApplicationPending, model.ApplicationAccepted)
	if err != nil {
		return nil, wrapStore(err)
	}
	if !ok {
		return nil, ErrConflict
	}
	app.Status = model.ApplicationAccepted

	accepted, err = e.apps.CountByStatus(ctx, orderID, model.ApplicationAccepted)
	if err != nil {
		return nil, wrapStore(err)
	}

	metrics.AdmissionsTotal.WithLabelValues(string(order.Policy), "accepted").Inc()
	e.record(ctx, model.EventApplicationAccepted, orderID, model.JSONB{
		"order_id":  orderID.String(),
		"worker_id": workerID.String(),
		"accepted":  accepted,
		"required":  order.RequiredCount,
	})
	e.auditDecision(ctx, orderID, workerID, employerID, "accept", "accepted", "")

	filled := false
	if accepted >= order.RequiredCount {
		filled = true
		e.fillAndRejectRemainder(ctx, order)
	}

	return &AcceptResult{
		Application:   app,
		AcceptedCount: accepted,
		RequiredCount: order.RequiredCount,
		OrderFilled:   filled,
	}, nil
}

// fillAndRejectRemainder runs the fill-then-mass-reject sequence. The fill is
// a conditional open->filled write so a concurrent fill is a no-op. Both
// passes are retried here and swept by the reconciler if they still fail, so
// an order at quota never sticks open and filled orders never keep pending
// entries indefinitely.
func (e *Engine) fillAndRejectRemainder(ctx context.Context, order *model.Order) {
	var (
		filled bool
		err    error
	)
	for attempt := 0; attempt < rejectPassAttempts; attempt++ {
		filled, err = e.orders.TransitionStatus(ctx, order.ID, model.OrderOpen, model.OrderFilled)
		if err == nil {
			break
		}
		e.logger.Warn("fill write failed, retrying",
			zap.String("order_id", order.ID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	if err != nil {
		// The order sits open at quota; the reconciler completes the fill.
		e.logger.Error("fill write exhausted retries", zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}
	if filled {
		metrics.OrdersFilledTotal.WithLabelValues(string(order.Policy)).Inc()
		e.record(ctx, model.EventOrderFilled, order.ID, model.JSONB{
			"order_id": order.ID.String(),
			"required": order.RequiredCount,
		})
	}

	var rejected int64
	for attempt := 0; attempt < rejectPassAttempts; attempt++ {
		rejected, err = e.apps.RejectPending(ctx, order.ID)
		if err == nil {
			break
		}
		e.logger.Warn("reject pass failed, retrying",
			zap.String("order_id", order.ID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	if err != nil {
		// The reconciler sweep picks this order up.
		e.logger.Error("reject pass exhausted retries", zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}
	if rejected > 0 {
		e.record(ctx, model.EventApplicationsRejected, order.ID, model.JSONB{
			"order_id": order.ID.String(),
			"count":    rejected,
		})
	}
}

// CloseOrder closes an open order that has no accepted workers.
func (e *Engine) CloseOrder(ctx context.Context, employerID, orderID uuid.UUID) error {
	unlock := e.guard.Lock(orderID)
	defer unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	if order.EmployerID != employerID {
		return ErrForbidden
	}
	if order.Status != model.OrderOpen {
		return ErrInvalidState
	}

	accepted, err := e.apps.CountByStatus(ctx, orderID, model.ApplicationAccepted)
	if err != nil {
		return wrapStore(err)
	}
	if accepted > 0 {
		return fmt.Errorf("%w: cannot close an order with accepted workers", ErrInvalidState)
	}

	ok, err := e.orders.TransitionStatus(ctx, orderID, model.OrderOpen, model.OrderClosed)
	if err != nil {
		return wrapStore(err)
	}
	if !ok {
		return ErrInvalidState
	}

	e.record(ctx, model.EventOrderClosed, orderID, model.JSONB{
		"order_id": orderID.String(),
		"reason":   "employer_close",
	})
	e.auditDecision(ctx, orderID, uuid.Nil, employerID, "close", "closed", "")

	return nil
}

// RejectAllAndClose bulk-rejects every pending entry, then closes the order.
// The zero-accepted precondition is re-verified immediately before the close
// write: if an accept raced in, the operation fails with ErrInvalidState
// instead of silently closing an order with an accepted worker.
func (e *Engine) RejectAllAndClose(ctx context.Context, employerID, orderID uuid.UUID) error {
	unlock := e.guard.Lock(orderID)
	defer unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	if order.EmployerID != employerID {
		return ErrForbidden
	}
	if order.Status != model.OrderOpen {
		return ErrInvalidState
	}

	rejected, err := e.apps.RejectPending(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}

	accepted, err := e.apps.CountByStatus(ctx, orderID, model.ApplicationAccepted)
	if err != nil {
		return wrapStore(err)
	}
	if accepted > 0 {
		return fmt.Errorf("%w: cannot close an order with accepted workers", ErrInvalidState)
	}

	ok, err := e.orders.TransitionStatus(ctx, orderID, model.OrderOpen, model.OrderClosed)
	if err != nil {
		return wrapStore(err)
	}
	if !ok {
		return ErrInvalidState
	}

	if rejected > 0 {
		e.record(ctx, model.EventApplicationsRejected, orderID, model.JSONB{
			"order_id": orderID.String(),
			"count":    rejected,
		})
	}
	e.record(ctx, model.EventOrderClosed, orderID, model.JSONB{
		"order_id": orderID.String(),
		"reason":   "reject_all",
	})
	e.auditDecision(ctx, orderID, uuid.Nil, employerID, "reject_all", "closed", fmt.Sprintf("rejected=%d", rejected))

	return nil
}

// JoinQueue admits a worker onto a FIFO order if the queue has room,
// checking the worker's declared category against the order's worker type.
// The insert that saturates the quota also closes the order.
func (e *Engine) JoinQueue(ctx context.Context, workerID, orderID uuid.UUID) error {
	unlock := e.guard.Lock(orderID)
	defer unlock()

	profile, err := e.profiles.Get(ctx, workerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return wrapStore(err)
	}

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	if order.Policy != model.PolicyFIFO {
		return ErrNotFound
	}
	if order.Status != model.OrderOpen {
		// Saturation is what closes fifo orders, so a terminal status means
		// the quota is met: late joiners see a full queue, not a closed one.
		metrics.QuotaRejectionsTotal.WithLabelValues(string(order.Policy)).Inc()
		return ErrCapacityExceeded
	}
	if profile.WorkerType != order.WorkerType {
		return fmt.Errorf("%w: order requires %s", ErrWrongCategory, order.WorkerType)
	}

	existing, err := e.apps.Find(ctx, orderID, workerID)
	if err != nil {
		return wrapStore(err)
	}
	if existing != nil {
		return ErrConflict
	}

	size, err := e.apps.Count(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	if size >= order.RequiredCount {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(order.Policy)).Inc()
		return ErrCapacityExceeded
	}

	entry := &model.Application{
		ID:        uuid.New(),
		OrderID:   orderID,
		WorkerID:  workerID,
		Status:    model.ApplicationQueued,
		AppliedAt: time.Now().UTC(),
	}
	if err := e.apps.Create(ctx, entry); err != nil {
		return wrapStore(err)
	}

	metrics.AdmissionsTotal.WithLabelValues(string(order.Policy), "joined").Inc()
	metrics.QueueDepth.WithLabelValues(order.WorkerType).Inc()
	e.record(ctx, model.EventQueueJoined, orderID, model.JSONB{
		"order_id":  orderID.String(),
		"worker_id": workerID.String(),
		"position":  size + 1,
	})
	e.auditDecision(ctx, orderID, workerID, workerID, "join", "queued", fmt.Sprintf("position=%d", size+1))

	if size+1 >= order.RequiredCount {
		closed, err := e.orders.TransitionStatus(ctx, orderID, model.OrderOpen, model.OrderClosed)
		if err != nil {
			e.logger.Error("failed to auto-close saturated order", zap.String("order_id", orderID.String()), zap.Error(err))
			return nil
		}
		if closed {
			metrics.OrdersFilledTotal.WithLabelValues(string(order.Policy)).Inc()
			e.record(ctx, model.EventOrderClosed, orderID, model.JSONB{
				"order_id": orderID.String(),
				"reason":   "queue_saturated",
			})
		}
	}

	return nil
}

// LeaveQueue removes the caller's queued entry from a FIFO order. Absent
// entries are a no-op, and leaving never reopens a closed order. Curated
// orders have no queue surface, so they read as not found here; their
// entries only move through accept and reject.
func (e *Engine) LeaveQueue(ctx context.Context, workerID, orderID uuid.UUID) error {
	unlock := e.guard.Lock(orderID)
	defer unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	if order.Policy != model.PolicyFIFO {
		return ErrNotFound
	}

	removed, err := e.apps.Delete(ctx, orderID, workerID)
	if err != nil {
		return wrapStore(err)
	}
	if removed {
		metrics.QueueDepth.WithLabelValues(order.WorkerType).Dec()
		e.record(ctx, model.EventQueueLeft, orderID, model.JSONB{
			"order_id":  orderID.String(),
			"worker_id": workerID.String(),
		})
		e.auditDecision(ctx, orderID, workerID, workerID, "leave", "removed", "")
	}
	return nil
}

// ListEntries returns the order's entries in FIFO order for the employer
// queue view.
func (e *Engine) ListEntries(ctx context.Context, orderID uuid.UUID) ([]model.Application, error) {
	apps, err := e.apps.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, wrapStore(err)
	}
	return apps, nil
}

func (e *Engine) record(ctx context.Context, eventType string, orderID uuid.UUID, payload model.JSONB) {
	if e.events == nil {
		return
	}
	event := &model.OrderEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		OrderID:   orderID,
		Payload:   payload,
		Status:    model.OutboxStatusPending,
	}
	if err := e.events.Record(ctx, event); err != nil {
		e.logger.Warn("failed to record order event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (e *Engine) auditDecision(ctx context.Context, orderID, workerID, actorID uuid.UUID, action, outcome, detail string) {
	if e.audit == nil {
		return
	}
	entry := &model.AuditEntry{
		OrderID:   orderID,
		WorkerID:  workerID,
		ActorID:   actorID,
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := e.audit.Append(ctx, []*model.AuditEntry{entry}); err != nil {
		e.logger.Warn("failed to append audit entry", zap.String("action", action), zap.Error(err))
	}
}

// wrapStore passes domain sentinels through untouched and folds everything
// else into ErrStoreUnavailable so callers can retry safely.
func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
