package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/metrics"
	"github.com/crewboard/crewboard/pkg/model"
)

const defaultSweepBatch = 100

// Reconciler completes interrupted fill/mass-reject passes outside the hot
// path: a filled or closed order must not keep live pending entries
// indefinitely, even if the engine crashed mid-pass.
type Reconciler struct {
	sweep    SweepStore
	orders   OrderStore
	apps     ApplicationStore
	events   EventRecorder
	guard    *QuotaGuard
	logger   *zap.Logger
	interval time.Duration
}

func NewReconciler(sweep SweepStore, orders OrderStore, apps ApplicationStore, events EventRecorder, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		sweep:    sweep,
		orders:   orders,
		apps:     apps,
		events:   events,
		guard:    NewQuotaGuard(),
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler starting", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.SweepAll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.SweepAll(ctx)
		}
	}
}

// SweepAll rejects stale pending entries on every terminal order found, then
// completes fills on orders whose quota was met but whose fill write was
// lost.
func (r *Reconciler) SweepAll(ctx context.Context) {
	orderIDs, err := r.sweep.StalePendingOrders(ctx, defaultSweepBatch)
	if err != nil {
		r.logger.Warn("failed to list stale orders", zap.Error(err))
		return
	}
	for _, orderID := range orderIDs {
		if err := r.SweepOrder(ctx, orderID); err != nil {
			r.logger.Warn("sweep failed", zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}

	stalled, err := r.sweep.StalledFillOrders(ctx, defaultSweepBatch)
	if err != nil {
		r.logger.Warn("failed to list stalled fills", zap.Error(err))
		return
	}
	for _, orderID := range stalled {
		if err := r.CompleteFill(ctx, orderID); err != nil {
			r.logger.Warn("fill completion failed", zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}
}

// SweepOrder rejects the order's remaining pending entries. Used both by the
// periodic sweep and by the order.filled event consumer.
func (r *Reconciler) SweepOrder(ctx context.Context, orderID uuid.UUID) error {
	unlock := r.guard.Lock(orderID)
	defer unlock()

	return r.rejectPendingLocked(ctx, orderID)
}

// CompleteFill finishes an interrupted fill: the conditional open->filled
// write, then the mass reject of whatever is still pending. A false fill
// write means someone else got there first, which is fine.
func (r *Reconciler) CompleteFill(ctx context.Context, orderID uuid.UUID) error {
	unlock := r.guard.Lock(orderID)
	defer unlock()

	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	filled, err := r.orders.TransitionStatus(ctx, orderID, model.OrderOpen, model.OrderFilled)
	if err != nil {
		return wrapStore(err)
	}
	if filled {
		metrics.OrdersFilledTotal.WithLabelValues(string(order.Policy)).Inc()
		r.logger.Info("completed stalled fill", zap.String("order_id", orderID.String()))
		if r.events != nil {
			event := &model.OrderEvent{
				EventID:   uuid.New(),
				EventType: model.EventOrderFilled,
				OrderID:   orderID,
				Payload: model.JSONB{
					"order_id": orderID.String(),
					"required": order.RequiredCount,
					"source":   "reconciler",
				},
				Status: model.OutboxStatusPending,
			}
			if err := r.events.Record(ctx, event); err != nil {
				r.logger.Warn("failed to record fill event", zap.Error(err))
			}
		}
	}

	return r.rejectPendingLocked(ctx, orderID)
}

func (r *Reconciler) rejectPendingLocked(ctx context.Context, orderID uuid.UUID) error {
	rejected, err := r.apps.RejectPending(ctx, orderID)
	if err != nil {
		return wrapStore(err)
	}
	if rejected == 0 {
		return nil
	}

	metrics.ReconcilerSweepsTotal.Inc()
	r.logger.Info("rejected stale pending entries",
		zap.String("order_id", orderID.String()),
		zap.Int64("count", rejected),
	)

	if r.events != nil {
		event := &model.OrderEvent{
			EventID:   uuid.New(),
			EventType: model.EventApplicationsRejected,
			OrderID:   orderID,
			Payload: model.JSONB{
				"order_id": orderID.String(),
				"count":    rejected,
				"source":   "reconciler",
			},
			Status: model.OutboxStatusPending,
		}
		if err := r.events.Record(ctx, event); err != nil {
			r.logger.Warn("failed to record sweep event", zap.Error(err))
		}
	}

	return nil
}
