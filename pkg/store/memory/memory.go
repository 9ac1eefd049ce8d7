// Package memory holds map-backed implementations of the admission storage
// interfaces. They serialize every call behind a single mutex, which is
// enough for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/model"
)

type OrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*model.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[uuid.UUID]*model.Order)}
}

func (r *OrderRepository) Put(order *model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	cp := *order
	r.orders[order.ID] = &cp
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, admission.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = time.Now()
	return true, nil
}

type ApplicationRepository struct {
	mu   sync.Mutex
	apps map[uuid.UUID]map[uuid.UUID]*model.Application

	orders *OrderRepository
}

// NewApplicationRepository wires the repository to an order repository so
// StalePendingOrders can cross-check order statuses.
func NewApplicationRepository(orders *OrderRepository) *ApplicationRepository {
	return &ApplicationRepository{
		apps:   make(map[uuid.UUID]map[uuid.UUID]*model.Application),
		orders: orders,
	}
}

func (r *ApplicationRepository) Find(ctx context.Context, orderID, workerID uuid.UUID) (*model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[orderID][workerID]
	if !ok {
		return nil, nil
	}
	cp := *app
	return &cp, nil
}

func (r *ApplicationRepository) Create(ctx context.Context, app *model.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byWorker, ok := r.apps[app.OrderID]
	if !ok {
		byWorker = make(map[uuid.UUID]*model.Application)
		r.apps[app.OrderID] = byWorker
	}
	if _, exists := byWorker[app.WorkerID]; exists {
		return admission.ErrConflict
	}
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if app.AppliedAt.IsZero() {
		app.AppliedAt = time.Now()
	}
	app.CreatedAt = time.Now()
	cp := *app
	byWorker[app.WorkerID] = &cp
	return nil
}

func (r *ApplicationRepository) Count(ctx context.Context, orderID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.apps[orderID]), nil
}

func (r *ApplicationRepository) CountByStatus(ctx context.Context, orderID uuid.UUID, status model.ApplicationStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, app := range r.apps[orderID] {
		if app.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *ApplicationRepository) TransitionStatus(ctx context.Context, orderID, workerID uuid.UUID, from, to model.ApplicationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[orderID][workerID]
	if !ok || app.Status != from {
		return false, nil
	}
	app.Status = to
	app.UpdatedAt = time.Now()
	return true, nil
}

func (r *ApplicationRepository) RejectPending(ctx context.Context, orderID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, app := range r.apps[orderID] {
		if app.Status == model.ApplicationPending {
			app.Status = model.ApplicationRejected
			app.UpdatedAt = time.Now()
			changed++
		}
	}
	return changed, nil
}

func (r *ApplicationRepository) Delete(ctx context.Context, orderID, workerID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[orderID][workerID]
	if !ok || app.Status != model.ApplicationQueued {
		return false, nil
	}
	delete(r.apps[orderID], workerID)
	return true, nil
}

func (r *ApplicationRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apps := make([]model.Application, 0, len(r.apps[orderID]))
	for _, app := range r.apps[orderID] {
		apps = append(apps, *app)
	}
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].AppliedAt.Before(apps[j].AppliedAt)
	})
	return apps, nil
}

func (r *ApplicationRepository) StalePendingOrders(ctx context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	candidates := make([]uuid.UUID, 0)
	for orderID, byWorker := range r.apps {
		for _, app := range byWorker {
			if app.Status == model.ApplicationPending {
				candidates = append(candidates, orderID)
				break
			}
		}
	}
	r.mu.Unlock()

	var ids []uuid.UUID
	for _, orderID := range candidates {
		order, err := r.orders.Get(ctx, orderID)
		if err != nil || !order.Status.Terminal() {
			continue
		}
		ids = append(ids, orderID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (r *ApplicationRepository) StalledFillOrders(ctx context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	accepted := make(map[uuid.UUID]int)
	for orderID, byWorker := range r.apps {
		for _, app := range byWorker {
			if app.Status == model.ApplicationAccepted {
				accepted[orderID]++
			}
		}
	}
	r.mu.Unlock()

	var ids []uuid.UUID
	for orderID, count := range accepted {
		order, err := r.orders.Get(ctx, orderID)
		if err != nil || order.Status != model.OrderOpen || count < order.RequiredCount {
			continue
		}
		ids = append(ids, orderID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

type ProfileRepository struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*model.WorkerProfile
}

func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{profiles: make(map[uuid.UUID]*model.WorkerProfile)}
}

func (r *ProfileRepository) Put(profile *model.WorkerProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *profile
	r.profiles[profile.UserID] = &cp
}

func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*model.WorkerProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, admission.ErrNotFound
	}
	cp := *profile
	return &cp, nil
}

// EventLog collects outbox rows in order of recording.
type EventLog struct {
	mu     sync.Mutex
	events []*model.OrderEvent
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Record(ctx context.Context, event *model.OrderEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *event
	l.events = append(l.events, &cp)
	return nil
}

func (l *EventLog) Events() []*model.OrderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.OrderEvent, len(l.events))
	copy(out, l.events)
	return out
}

// AuditLog is an in-memory store.AuditStore.
type AuditLog struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(ctx context.Context, entries []*model.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range entries {
		cp := *entry
		l.entries = append(l.entries, &cp)
	}
	return nil
}

func (l *AuditLog) List(ctx context.Context, orderID string, limit int) ([]model.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].OrderID.String() != orderID {
			continue
		}
		out = append(out, *l.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *AuditLog) DeleteOld(ctx context.Context, retentionDays int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	kept := l.entries[:0]
	for _, entry := range l.entries {
		if entry.Timestamp >= cutoff {
			kept = append(kept, entry)
		}
	}
	l.entries = kept
	return nil
}

func (l *AuditLog) Close() error {
	return nil
}
