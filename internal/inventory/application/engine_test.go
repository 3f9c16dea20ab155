package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/memory"
)

// faultyStore injects failures into a memory store per slot and direction.
type faultyStore struct {
	*memory.Store

	mu        sync.Mutex
	failTake  map[int64]error
	failGive  map[int64]error
	failGet   map[int64]error
	blockTake map[int64]chan struct{}
	entered   chan int64
}

func newFaultyStore(slots ...domain.Slot) *faultyStore {
	return &faultyStore{
		Store:     memory.NewStore(slots...),
		failTake:  map[int64]error{},
		failGive:  map[int64]error{},
		failGet:   map[int64]error{},
		blockTake: map[int64]chan struct{}{},
		entered:   make(chan int64, 16),
	}
}

func (f *faultyStore) TryApplyDelta(ctx context.Context, id int64, delta int) (int, error) {
	f.mu.Lock()
	takeErr, giveErr, block := f.failTake[id], f.failGive[id], f.blockTake[id]
	f.mu.Unlock()

	if delta < 0 && block != nil {
		f.entered <- id
		<-block
	}
	if delta < 0 && takeErr != nil {
		return 0, takeErr
	}
	if delta > 0 && giveErr != nil {
		return 0, giveErr
	}
	return f.Store.TryApplyDelta(ctx, id, delta)
}

func (f *faultyStore) Get(ctx context.Context, id int64) (domain.Slot, error) {
	f.mu.Lock()
	err := f.failGet[id]
	f.mu.Unlock()

	if err != nil {
		return domain.Slot{}, err
	}
	return f.Store.Get(ctx, id)
}

func (f *faultyStore) healGive(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failGive, id)
}

func available(t *testing.T, s application.Store, id int64) int {
	t.Helper()
	slot, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return slot.Available
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestReserveCommitsAllSlots(t *testing.T) {
	store := memory.NewStore(
		domain.Slot{ID: 1, Capacity: 5, Available: 5},
		domain.Slot{ID: 2, Capacity: 3, Available: 3},
	)
	engine := application.NewEngine(zap.NewNop(), store)

	res, err := engine.Reserve(context.Background(), []domain.Demand{
		{SlotID: 2, Quantity: 3},
		{SlotID: 1, Quantity: 2},
	})
	require.NoError(t, err)
	require.True(t, res.Committed)
	assert.Equal(t, []domain.Demand{{SlotID: 1, Quantity: 2}, {SlotID: 2, Quantity: 3}}, res.Demands)

	assert.Equal(t, 3, available(t, store, 1))
	assert.Equal(t, 0, available(t, store, 2))
}

func TestReserveRejectsWithReasonsAndLeavesStoreUnchanged(t *testing.T) {
	store := memory.NewStore(
		domain.Slot{ID: 1, Capacity: 5, Available: 5},
		domain.Slot{ID: 2, Capacity: 3, Available: 3},
	)
	engine := application.NewEngine(zap.NewNop(), store)

	res, err := engine.Reserve(context.Background(), []domain.Demand{
		{SlotID: 1, Quantity: 1},
		{SlotID: 2, Quantity: 10},
		{SlotID: 99, Quantity: 1},
	})
	require.NoError(t, err)
	require.False(t, res.Committed)

	assert.Equal(t, domain.InsufficientSpace(10, 3), res.Reasons[2])
	assert.Equal(t, domain.NotFound(), res.Reasons[99])
	assert.NotContains(t, res.Reasons, int64(1))

	assert.Equal(t, 5, available(t, store, 1))
	assert.Equal(t, 3, available(t, store, 2))
}

func TestReserveRollsBackWhenLastItemFails(t *testing.T) {
	store := newFaultyStore(
		domain.Slot{ID: 1, Capacity: 5, Available: 5},
		domain.Slot{ID: 2, Capacity: 5, Available: 5},
		domain.Slot{ID: 3, Capacity: 5, Available: 5},
	)
	store.failTake[3] = domain.ErrStoreUnavailable

	reg := prometheus.NewRegistry()
	engine := application.NewEngine(zap.NewNop(), store, application.WithMetrics(application.NewMetrics(reg)))

	_, err := engine.Reserve(context.Background(), []domain.Demand{
		{SlotID: 1, Quantity: 2},
		{SlotID: 2, Quantity: 2},
		{SlotID: 3, Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, 5, available(t, store, id), "slot %d", id)
	}
	assert.Equal(t, 2.0, counterValue(t, reg, "booking_reservation_compensations_total"))
	assert.Empty(t, engine.Quarantined())
}

func TestReserveCoalescesDuplicateSlots(t *testing.T) {
	items := []domain.Demand{{SlotID: 1, Quantity: 2}, {SlotID: 1, Quantity: 1}}

	t.Run("enough for the sum", func(t *testing.T) {
		store := memory.NewStore(domain.Slot{ID: 1, Capacity: 5, Available: 3})
		engine := application.NewEngine(zap.NewNop(), store)

		res, err := engine.Reserve(context.Background(), items)
		require.NoError(t, err)
		assert.True(t, res.Committed)
		assert.Equal(t, 0, available(t, store, 1))
	})

	t.Run("enough for each but not the sum", func(t *testing.T) {
		store := memory.NewStore(domain.Slot{ID: 1, Capacity: 5, Available: 2})
		engine := application.NewEngine(zap.NewNop(), store)

		res, err := engine.Reserve(context.Background(), items)
		require.NoError(t, err)
		require.False(t, res.Committed)
		assert.Equal(t, domain.InsufficientSpace(3, 2), res.Reasons[1])
		assert.Equal(t, 2, available(t, store, 1))
	})
}

func TestReserveInvalidRequests(t *testing.T) {
	store := memory.NewStore(domain.Slot{ID: 1, Capacity: 5, Available: 5})
	engine := application.NewEngine(zap.NewNop(), store)

	res, err := engine.Reserve(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.NotEmpty(t, res.Invalid)

	res, err = engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 0}})
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.True(t, res.HasReason(domain.ReasonInvalidQuantity))
	assert.Equal(t, 5, available(t, store, 1))
}

func TestReserveNeverOversells(t *testing.T) {
	const capacity, requests = 10, 64

	store := memory.NewStore(domain.Slot{ID: 1, Capacity: capacity, Available: capacity})
	engine := application.NewEngine(zap.NewNop(), store, application.WithLockTimeout(10*time.Second))

	var committed, rejected atomic.Int32
	var g errgroup.Group
	for range requests {
		g.Go(func() error {
			res, err := engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 1}})
			if err != nil {
				return err
			}
			if res.Committed {
				committed.Add(1)
			} else {
				rejected.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(capacity), committed.Load())
	assert.Equal(t, int32(requests-capacity), rejected.Load())
	assert.Equal(t, 0, available(t, store, 1))
}

func TestReserveOpposingOrdersDoNotDeadlock(t *testing.T) {
	store := memory.NewStore(
		domain.Slot{ID: 1, Capacity: 1000, Available: 1000},
		domain.Slot{ID: 2, Capacity: 1000, Available: 1000},
	)
	engine := application.NewEngine(zap.NewNop(), store, application.WithLockTimeout(10*time.Second))

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		for i := range 200 {
			items := []domain.Demand{{SlotID: 1, Quantity: 1}, {SlotID: 2, Quantity: 1}}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			g.Go(func() error {
				res, err := engine.Reserve(context.Background(), items)
				if err == nil && !res.Committed {
					err = errors.New("unexpected rejection")
				}
				return err
			})
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("reservations did not finish")
	}

	assert.Equal(t, 800, available(t, store, 1))
	assert.Equal(t, 800, available(t, store, 2))
}

func TestReserveLockTimeout(t *testing.T) {
	store := newFaultyStore(domain.Slot{ID: 1, Capacity: 5, Available: 5})
	release := make(chan struct{})
	store.blockTake[1] = release

	engine := application.NewEngine(zap.NewNop(), store, application.WithLockTimeout(50*time.Millisecond))

	first := make(chan error, 1)
	go func() {
		_, err := engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 1}})
		first <- err
	}()
	<-store.entered

	_, err := engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, 4, available(t, store, 1))
}

func TestFailedCompensationQuarantinesSlot(t *testing.T) {
	store := newFaultyStore(
		domain.Slot{ID: 1, Capacity: 5, Available: 5},
		domain.Slot{ID: 2, Capacity: 5, Available: 0},
	)
	store.failGive[1] = domain.ErrStoreUnavailable

	var alerts []*domain.ConsistencyViolationError
	reg := prometheus.NewRegistry()
	engine := application.NewEngine(zap.NewNop(), store,
		application.WithMetrics(application.NewMetrics(reg)),
		application.WithCompensationMaxElapsed(100*time.Millisecond),
		application.WithAlertHook(func(_ context.Context, v *domain.ConsistencyViolationError) {
			alerts = append(alerts, v)
		}),
	)

	_, err := engine.Reserve(context.Background(), []domain.Demand{
		{SlotID: 1, Quantity: 1},
		{SlotID: 2, Quantity: 1},
	})

	var violation *domain.ConsistencyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, int64(1), violation.SlotID)
	assert.Equal(t, 1, violation.Delta)
	require.Len(t, alerts, 1)
	assert.Equal(t, []int64{1}, engine.Quarantined())
	assert.Equal(t, 1.0, counterValue(t, reg, "booking_reservation_consistency_violations_total"))

	_, err = engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrSlotQuarantined)

	store.healGive(1)
	engine.ClearQuarantine(1)

	res, err := engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, 3, available(t, store, 1))
}

func TestRejectionReportsUnreadableSlot(t *testing.T) {
	store := newFaultyStore(
		domain.Slot{ID: 1, Capacity: 5, Available: 0},
		domain.Slot{ID: 2, Capacity: 5, Available: 5},
	)
	store.failGet[2] = domain.ErrStoreUnavailable
	engine := application.NewEngine(zap.NewNop(), store)

	res, err := engine.Reserve(context.Background(), []domain.Demand{
		{SlotID: 1, Quantity: 1},
		{SlotID: 2, Quantity: 3},
	})
	require.NoError(t, err)
	require.False(t, res.Committed)
	assert.Equal(t, domain.InsufficientSpace(1, 0), res.Reasons[1])
	assert.Equal(t, domain.Reason{Code: domain.ReasonUnknown, Requested: 3}, res.Reasons[2])

	store.failGet = map[int64]error{}
	assert.Equal(t, 5, available(t, store, 2))
}

func TestLockSlotRefusesQuarantinedSlot(t *testing.T) {
	store := newFaultyStore(
		domain.Slot{ID: 1, Capacity: 5, Available: 5},
		domain.Slot{ID: 2, Capacity: 5, Available: 0},
	)
	store.failGive[1] = domain.ErrStoreUnavailable
	engine := application.NewEngine(zap.NewNop(), store,
		application.WithCompensationMaxElapsed(50*time.Millisecond),
		application.WithLockTimeout(50*time.Millisecond),
	)

	unlock, err := engine.LockSlot(context.Background(), 1)
	require.NoError(t, err)

	// A held slot lock blocks reservations on that slot.
	_, err = engine.Reserve(context.Background(), []domain.Demand{{SlotID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	unlock()

	_, err = engine.Reserve(context.Background(), []domain.Demand{
		{SlotID: 1, Quantity: 1},
		{SlotID: 2, Quantity: 1},
	})
	require.Error(t, err)

	_, err = engine.LockSlot(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrSlotQuarantined)

	// The refused attempt must not leave the lock held.
	unlock, err = engine.LockSlot(context.Background(), 2)
	require.NoError(t, err)
	unlock()
}

func TestReleaseReturnsSpaces(t *testing.T) {
	store := memory.NewStore(domain.Slot{ID: 1, Capacity: 5, Available: 5})
	engine := application.NewEngine(zap.NewNop(), store)

	demands := []domain.Demand{{SlotID: 1, Quantity: 2}}
	res, err := engine.Reserve(context.Background(), demands)
	require.NoError(t, err)
	require.True(t, res.Committed)

	require.NoError(t, engine.Release(context.Background(), res.Demands))
	assert.Equal(t, 5, available(t, store, 1))
}

func TestReleaseIgnoresCallerCancellation(t *testing.T) {
	store := memory.NewStore(domain.Slot{ID: 1, Capacity: 5, Available: 3})
	engine := application.NewEngine(zap.NewNop(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, engine.Release(ctx, []domain.Demand{{SlotID: 1, Quantity: 2}}))
	assert.Equal(t, 5, available(t, store, 1))
}
