package admission_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/store/memory"
)

type fixture struct {
	engine   *admission.Engine
	orders   *memory.OrderRepository
	apps     *memory.ApplicationRepository
	profiles *memory.ProfileRepository
	events   *memory.EventLog
	audit    *memory.AuditLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	apps := memory.NewApplicationRepository(orders)
	profiles := memory.NewProfileRepository()
	events := memory.NewEventLog()
	audit := memory.NewAuditLog()
	return &fixture{
		engine:   admission.NewEngine(orders, apps, profiles, events, audit, nil),
		orders:   orders,
		apps:     apps,
		profiles: profiles,
		events:   events,
		audit:    audit,
	}
}

func (f *fixture) addOrder(policy model.AdmissionPolicy, workerType string, required int) *model.Order {
	order := &model.Order{
		ID:            uuid.New(),
		EmployerID:    uuid.New(),
		WorkerType:    workerType,
		RequiredCount: required,
		Policy:        policy,
		Status:        model.OrderOpen,
	}
	f.orders.Put(order)
	return order
}

func (f *fixture) addWorker(workerType string) uuid.UUID {
	workerID := uuid.New()
	f.profiles.Put(&model.WorkerProfile{
		UserID:     workerID,
		WorkerType: workerType,
		Available:  true,
	})
	return workerID
}

func TestSubmitApplication(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	workerID := uuid.New()

	app, err := f.engine.SubmitApplication(context.Background(), workerID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationPending, app.Status)
	assert.Equal(t, order.ID, app.OrderID)
	assert.Equal(t, workerID, app.WorkerID)
}

func TestSubmitApplicationDuplicate(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(context.Background(), workerID, order.ID)
	require.NoError(t, err)

	_, err = f.engine.SubmitApplication(context.Background(), workerID, order.ID)
	assert.ErrorIs(t, err, admission.ErrConflict)
}

func TestSubmitApplicationUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SubmitApplication(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestSubmitApplicationFIFOOrderHidden(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 2)

	_, err := f.engine.SubmitApplication(context.Background(), uuid.New(), order.ID)
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestSubmitApplicationAtCapacity(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 1)
	ctx := context.Background()

	workerID := uuid.New()
	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)

	// Order is now filled, so submission reads as not-found.
	_, err = f.engine.SubmitApplication(ctx, uuid.New(), order.ID)
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestAcceptApplication(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)

	result, err := f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationAccepted, result.Application.Status)
	assert.Equal(t, 1, result.AcceptedCount)
	assert.Equal(t, 2, result.RequiredCount)
	assert.False(t, result.OrderFilled)
}

func TestAcceptApplicationIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)

	result, err := f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AcceptedCount)
}

func TestAcceptApplicationWrongEmployer(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)

	_, err = f.engine.AcceptApplication(ctx, uuid.New(), order.ID, workerID)
	assert.ErrorIs(t, err, admission.ErrForbidden)
}

func TestAcceptApplicationMissingEntry(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)

	_, err := f.engine.AcceptApplication(context.Background(), order.EmployerID, order.ID, uuid.New())
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestAcceptApplicationRejectedEntry(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.apps.RejectPending(ctx, order.ID)
	require.NoError(t, err)

	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	assert.ErrorIs(t, err, admission.ErrConflict)
}

func TestAcceptFillsOrderAndRejectsRemainder(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 1)
	ctx := context.Background()

	accepted := uuid.New()
	leftover := uuid.New()
	_, err := f.engine.SubmitApplication(ctx, accepted, order.ID)
	require.NoError(t, err)
	_, err = f.engine.SubmitApplication(ctx, leftover, order.ID)
	require.NoError(t, err)

	result, err := f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, accepted)
	require.NoError(t, err)
	assert.True(t, result.OrderFilled)

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, got.Status)

	entry, err := f.apps.Find(ctx, order.ID, leftover)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationRejected, entry.Status)
}

func TestAcceptOnFilledOrder(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 1)
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	_, err := f.engine.SubmitApplication(ctx, first, order.ID)
	require.NoError(t, err)
	_, err = f.engine.SubmitApplication(ctx, second, order.ID)
	require.NoError(t, err)

	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, first)
	require.NoError(t, err)

	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, second)
	assert.ErrorIs(t, err, admission.ErrAlreadyClosed)
}

func TestCloseOrder(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()

	require.NoError(t, f.engine.CloseOrder(ctx, order.EmployerID, order.ID))

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, got.Status)

	assert.ErrorIs(t, f.engine.CloseOrder(ctx, order.EmployerID, order.ID), admission.ErrInvalidState)
}

func TestCloseOrderWithAcceptedWorkers(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)

	err = f.engine.CloseOrder(ctx, order.EmployerID, order.ID)
	assert.ErrorIs(t, err, admission.ErrInvalidState)
}

func TestRejectAllAndClose(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 3)
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	_, err := f.engine.SubmitApplication(ctx, first, order.ID)
	require.NoError(t, err)
	_, err = f.engine.SubmitApplication(ctx, second, order.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.RejectAllAndClose(ctx, order.EmployerID, order.ID))

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, got.Status)

	for _, workerID := range []uuid.UUID{first, second} {
		entry, err := f.apps.Find(ctx, order.ID, workerID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, model.ApplicationRejected, entry.Status)
	}
}

func TestRejectAllAndCloseWithAcceptedWorker(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)

	err = f.engine.RejectAllAndClose(ctx, order.EmployerID, order.ID)
	assert.ErrorIs(t, err, admission.ErrInvalidState)
}

func TestJoinQueue(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 3)
	workerID := f.addWorker("harvest")

	require.NoError(t, f.engine.JoinQueue(context.Background(), workerID, order.ID))

	entry, err := f.apps.Find(context.Background(), order.ID, workerID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationQueued, entry.Status)
}

func TestJoinQueueWithoutProfile(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 3)

	err := f.engine.JoinQueue(context.Background(), uuid.New(), order.ID)
	assert.ErrorIs(t, err, admission.ErrForbidden)
}

func TestJoinQueueWrongWorkerType(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 3)
	workerID := f.addWorker("packing")

	err := f.engine.JoinQueue(context.Background(), workerID, order.ID)
	assert.ErrorIs(t, err, admission.ErrWrongCategory)
}

func TestJoinQueueCuratedOrderHidden(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 3)
	workerID := f.addWorker("harvest")

	err := f.engine.JoinQueue(context.Background(), workerID, order.ID)
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestJoinQueueDuplicate(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 3)
	workerID := f.addWorker("harvest")
	ctx := context.Background()

	require.NoError(t, f.engine.JoinQueue(ctx, workerID, order.ID))
	assert.ErrorIs(t, f.engine.JoinQueue(ctx, workerID, order.ID), admission.ErrConflict)
}

func TestJoinQueueSaturationClosesOrder(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 2)
	ctx := context.Background()

	first := f.addWorker("harvest")
	second := f.addWorker("harvest")

	require.NoError(t, f.engine.JoinQueue(ctx, first, order.ID))

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderOpen, got.Status)

	require.NoError(t, f.engine.JoinQueue(ctx, second, order.ID))

	got, err = f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, got.Status)

	third := f.addWorker("harvest")
	assert.ErrorIs(t, f.engine.JoinQueue(ctx, third, order.ID), admission.ErrCapacityExceeded)
}

func TestJoinQueueFullReadsAsCapacity(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.JoinQueue(ctx, f.addWorker("harvest"), order.ID))
	}

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderClosed, got.Status)

	// Joiners past the quota see a full queue, never a closed order.
	for i := 0; i < 2; i++ {
		err := f.engine.JoinQueue(ctx, f.addWorker("harvest"), order.ID)
		assert.ErrorIs(t, err, admission.ErrCapacityExceeded)
		assert.NotErrorIs(t, err, admission.ErrAlreadyClosed)
	}

	size, err := f.apps.Count(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestLeaveQueue(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 3)
	workerID := f.addWorker("harvest")
	ctx := context.Background()

	require.NoError(t, f.engine.JoinQueue(ctx, workerID, order.ID))
	require.NoError(t, f.engine.LeaveQueue(ctx, workerID, order.ID))

	entry, err := f.apps.Find(ctx, order.ID, workerID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Leaving again is a no-op.
	require.NoError(t, f.engine.LeaveQueue(ctx, workerID, order.ID))
}

func TestLeaveQueueCuratedOrderHidden(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 2)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.LeaveQueue(ctx, workerID, order.ID), admission.ErrNotFound)

	entry, err := f.apps.Find(ctx, order.ID, workerID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationAccepted, entry.Status)

	accepted, err := f.apps.CountByStatus(ctx, order.ID, model.ApplicationAccepted)
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
}

func TestLeaveQueueDoesNotReopenClosedOrder(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyFIFO, "harvest", 1)
	workerID := f.addWorker("harvest")
	ctx := context.Background()

	require.NoError(t, f.engine.JoinQueue(ctx, workerID, order.ID))

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderClosed, got.Status)

	require.NoError(t, f.engine.LeaveQueue(ctx, workerID, order.ID))

	got, err = f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, got.Status)
}

func TestConcurrentJoinNeverExceedsQuota(t *testing.T) {
	f := newFixture(t)
	const required = 5
	const contenders = 50
	order := f.addOrder(model.PolicyFIFO, "harvest", required)
	ctx := context.Background()

	var wg sync.WaitGroup
	admitted := make(chan struct{}, contenders)
	for i := 0; i < contenders; i++ {
		workerID := f.addWorker("harvest")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.engine.JoinQueue(ctx, workerID, order.ID); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	assert.Equal(t, required, count)

	size, err := f.apps.Count(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, required, size)

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderClosed, got.Status)
}

func TestConcurrentAcceptNeverExceedsQuota(t *testing.T) {
	f := newFixture(t)
	const required = 3
	const applicants = 30
	order := f.addOrder(model.PolicyCurated, "harvest", required)
	ctx := context.Background()

	workers := make([]uuid.UUID, 0, applicants)
	for i := 0; i < applicants; i++ {
		workerID := uuid.New()
		_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
		require.NoError(t, err)
		workers = append(workers, workerID)
	}

	var wg sync.WaitGroup
	for _, workerID := range workers {
		workerID := workerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
		}()
	}
	wg.Wait()

	accepted, err := f.apps.CountByStatus(ctx, order.ID, model.ApplicationAccepted)
	require.NoError(t, err)
	assert.Equal(t, required, accepted)

	pending, err := f.apps.CountByStatus(ctx, order.ID, model.ApplicationPending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	got, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, got.Status)
}

// flakyOrderStore fails the first N status writes, then delegates.
type flakyOrderStore struct {
	admission.OrderStore
	failures int32
}

func (s *flakyOrderStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) (bool, error) {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return false, errors.New("write timeout")
	}
	return s.OrderStore.TransitionStatus(ctx, id, from, to)
}

func TestFillRetriesTransientWriteFailure(t *testing.T) {
	orders := memory.NewOrderRepository()
	apps := memory.NewApplicationRepository(orders)
	flaky := &flakyOrderStore{OrderStore: orders, failures: 1}
	engine := admission.NewEngine(flaky, apps, memory.NewProfileRepository(), memory.NewEventLog(), memory.NewAuditLog(), nil)

	order := &model.Order{
		ID:            uuid.New(),
		EmployerID:    uuid.New(),
		WorkerType:    "harvest",
		RequiredCount: 1,
		Policy:        model.PolicyCurated,
		Status:        model.OrderOpen,
	}
	orders.Put(order)
	ctx := context.Background()

	accepted := uuid.New()
	leftover := uuid.New()
	_, err := engine.SubmitApplication(ctx, accepted, order.ID)
	require.NoError(t, err)
	_, err = engine.SubmitApplication(ctx, leftover, order.ID)
	require.NoError(t, err)

	result, err := engine.AcceptApplication(ctx, order.EmployerID, order.ID, accepted)
	require.NoError(t, err)
	assert.True(t, result.OrderFilled)

	got, err := orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, got.Status)

	entry, err := apps.Find(ctx, order.ID, leftover)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationRejected, entry.Status)
}

func TestEventsRecorded(t *testing.T) {
	f := newFixture(t)
	order := f.addOrder(model.PolicyCurated, "harvest", 1)
	ctx := context.Background()
	workerID := uuid.New()

	_, err := f.engine.SubmitApplication(ctx, workerID, order.ID)
	require.NoError(t, err)
	_, err = f.engine.AcceptApplication(ctx, order.EmployerID, order.ID, workerID)
	require.NoError(t, err)

	types := make([]string, 0)
	for _, event := range f.events.Events() {
		types = append(types, event.EventType)
	}
	assert.Contains(t, types, model.EventApplicationSubmitted)
	assert.Contains(t, types, model.EventApplicationAccepted)
	assert.Contains(t, types, model.EventOrderFilled)
}
