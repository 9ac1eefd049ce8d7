package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/store/memory"
)

func TestSweepRejectsStalePending(t *testing.T) {
	orders := memory.NewOrderRepository()
	apps := memory.NewApplicationRepository(orders)
	events := memory.NewEventLog()
	ctx := context.Background()

	order := &model.Order{
		ID:            uuid.New(),
		EmployerID:    uuid.New(),
		WorkerType:    "harvest",
		RequiredCount: 1,
		Policy:        model.PolicyCurated,
		Status:        model.OrderFilled,
	}
	orders.Put(order)

	// A pending entry left behind by an interrupted reject pass.
	stale := &model.Application{
		OrderID:  order.ID,
		WorkerID: uuid.New(),
		Status:   model.ApplicationPending,
	}
	require.NoError(t, apps.Create(ctx, stale))

	reconciler := admission.NewReconciler(apps, orders, apps, events, nil, time.Minute)
	reconciler.SweepAll(ctx)

	entry, err := apps.Find(ctx, order.ID, stale.WorkerID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationRejected, entry.Status)

	recorded := events.Events()
	require.Len(t, recorded, 1)
	assert.Equal(t, model.EventApplicationsRejected, recorded[0].EventType)
	assert.Equal(t, "reconciler", recorded[0].Payload["source"])
}

func TestSweepIgnoresOpenOrders(t *testing.T) {
	orders := memory.NewOrderRepository()
	apps := memory.NewApplicationRepository(orders)
	events := memory.NewEventLog()
	ctx := context.Background()

	order := &model.Order{
		ID:            uuid.New(),
		EmployerID:    uuid.New(),
		WorkerType:    "harvest",
		RequiredCount: 2,
		Policy:        model.PolicyCurated,
		Status:        model.OrderOpen,
	}
	orders.Put(order)

	pending := &model.Application{
		OrderID:  order.ID,
		WorkerID: uuid.New(),
		Status:   model.ApplicationPending,
	}
	require.NoError(t, apps.Create(ctx, pending))

	reconciler := admission.NewReconciler(apps, orders, apps, events, nil, time.Minute)
	reconciler.SweepAll(ctx)

	entry, err := apps.Find(ctx, order.ID, pending.WorkerID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationPending, entry.Status)
	assert.Empty(t, events.Events())
}

func TestSweepCompletesStalledFill(t *testing.T) {
	orders := memory.NewOrderRepository()
	apps := memory.NewApplicationRepository(orders)
	events := memory.NewEventLog()
	ctx := context.Background()

	// Quota met but the fill write never landed: the order is stuck open.
	order := &model.Order{
		ID:            uuid.New(),
		EmployerID:    uuid.New(),
		WorkerType:    "harvest",
		RequiredCount: 1,
		Policy:        model.PolicyCurated,
		Status:        model.OrderOpen,
	}
	orders.Put(order)

	accepted := &model.Application{
		OrderID:  order.ID,
		WorkerID: uuid.New(),
		Status:   model.ApplicationAccepted,
	}
	require.NoError(t, apps.Create(ctx, accepted))

	pending := &model.Application{
		OrderID:  order.ID,
		WorkerID: uuid.New(),
		Status:   model.ApplicationPending,
	}
	require.NoError(t, apps.Create(ctx, pending))

	reconciler := admission.NewReconciler(apps, orders, apps, events, nil, time.Minute)
	reconciler.SweepAll(ctx)

	got, err := orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, got.Status)

	entry, err := apps.Find(ctx, order.ID, pending.WorkerID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.ApplicationRejected, entry.Status)

	kept, err := apps.Find(ctx, order.ID, accepted.WorkerID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, model.ApplicationAccepted, kept.Status)

	types := make([]string, 0)
	for _, event := range events.Events() {
		types = append(types, event.EventType)
	}
	assert.Contains(t, types, model.EventOrderFilled)
	assert.Contains(t, types, model.EventApplicationsRejected)
}

func TestSweepOrderIsIdempotent(t *testing.T) {
	orders := memory.NewOrderRepository()
	apps := memory.NewApplicationRepository(orders)
	events := memory.NewEventLog()
	ctx := context.Background()

	orderID := uuid.New()
	reconciler := admission.NewReconciler(apps, orders, apps, events, nil, time.Minute)

	require.NoError(t, reconciler.SweepOrder(ctx, orderID))
	require.NoError(t, reconciler.SweepOrder(ctx, orderID))
	assert.Empty(t, events.Events())
}
