package application_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	invapp "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	invmemory "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/memory"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/idempotency"
)

type fixture struct {
	store   *invmemory.Store
	ledger  application.Ledger
	service *application.Service
}

func newFixture(ledger application.Ledger) fixture {
	store := invmemory.NewStore(
		invdomain.Slot{ID: 1, Title: "Maths", Capacity: 5, Available: 5},
		invdomain.Slot{ID: 2, Title: "English", Capacity: 2, Available: 2},
	)
	if ledger == nil {
		ledger = memory.NewLedger()
	}
	engine := invapp.NewEngine(zap.NewNop(), store)
	return fixture{
		store:   store,
		ledger:  ledger,
		service: application.NewService(zap.NewNop(), ledger, engine, idempotency.NewLocal(), nil),
	}
}

func (f fixture) available(t *testing.T, id int64) int {
	t.Helper()
	slot, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return slot.Available
}

func request(key string, items ...domain.Item) application.PlaceOrderRequest {
	return application.PlaceOrderRequest{
		Requester:      domain.Requester{Name: "Ada Lovelace", Contact: "07700 900123"},
		IdempotencyKey: key,
		Items:          items,
	}
}

func TestPlaceOrderCommits(t *testing.T) {
	f := newFixture(nil)

	out, err := f.service.PlaceOrder(context.Background(), request("k1",
		domain.Item{SlotID: 1, Quantity: 2},
		domain.Item{SlotID: 2, Quantity: 1},
	))
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.False(t, out.Rejected)
	assert.Equal(t, "k1", out.Order.IdempotencyKey)
	assert.Len(t, out.Order.Items, 2)

	assert.Equal(t, 3, f.available(t, 1))
	assert.Equal(t, 1, f.available(t, 2))

	orders, err := f.service.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, out.Order.ID, orders[0].ID)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(nil)

	req := request("k", domain.Item{SlotID: 1, Quantity: 0})
	req.Requester.Name = "  "

	_, err := f.service.PlaceOrder(context.Background(), req)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "requester.name")
	assert.Contains(t, verr.Fields, "items[0].quantity")

	_, err = f.service.PlaceOrder(context.Background(), request("k"))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "items")

	assert.Equal(t, 5, f.available(t, 1))
}

func TestPlaceOrderRejectedWritesNothing(t *testing.T) {
	f := newFixture(nil)

	out, err := f.service.PlaceOrder(context.Background(), request("k",
		domain.Item{SlotID: 1, Quantity: 1},
		domain.Item{SlotID: 2, Quantity: 3},
		domain.Item{SlotID: 9, Quantity: 1},
	))
	require.NoError(t, err)
	require.True(t, out.Rejected)
	assert.Equal(t, invdomain.InsufficientSpace(3, 2), out.Reasons[2])
	assert.Equal(t, invdomain.NotFound(), out.Reasons[9])

	assert.Equal(t, 5, f.available(t, 1))
	orders, err := f.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)

	// A rejected key is not burnt: the retry is evaluated afresh.
	out, err = f.service.PlaceOrder(context.Background(), request("k", domain.Item{SlotID: 1, Quantity: 1}))
	require.NoError(t, err)
	assert.False(t, out.Rejected)
	assert.False(t, out.Replayed)
}

func TestPlaceOrderReplaysSameKey(t *testing.T) {
	f := newFixture(nil)

	first, err := f.service.PlaceOrder(context.Background(), request("same", domain.Item{SlotID: 1, Quantity: 2}))
	require.NoError(t, err)

	second, err := f.service.PlaceOrder(context.Background(), request("same", domain.Item{SlotID: 1, Quantity: 4}))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.Items, second.Order.Items)

	assert.Equal(t, 3, f.available(t, 1))
}

func TestPlaceOrderConcurrentSameKeyReservesOnce(t *testing.T) {
	f := newFixture(nil)

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			_, err := f.service.PlaceOrder(context.Background(), request("burst", domain.Item{SlotID: 1, Quantity: 1}))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 4, f.available(t, 1))
	orders, err := f.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPlaceOrderWithoutKeyIsNotDeduplicated(t *testing.T) {
	f := newFixture(nil)

	a, err := f.service.PlaceOrder(context.Background(), request("", domain.Item{SlotID: 1, Quantity: 1}))
	require.NoError(t, err)
	b, err := f.service.PlaceOrder(context.Background(), request("", domain.Item{SlotID: 1, Quantity: 1}))
	require.NoError(t, err)

	assert.NotEqual(t, a.Order.ID, b.Order.ID)
	assert.NotEmpty(t, a.Order.IdempotencyKey)
	assert.Equal(t, 3, f.available(t, 1))
}

// brokenLedger fails every append.
type brokenLedger struct{ *memory.Ledger }

func (brokenLedger) Append(context.Context, domain.Order) (domain.Order, error) {
	return domain.Order{}, errors.New("disk full")
}

func TestPlaceOrderReleasesOnLedgerFailure(t *testing.T) {
	f := newFixture(brokenLedger{memory.NewLedger()})

	_, err := f.service.PlaceOrder(context.Background(), request("k",
		domain.Item{SlotID: 1, Quantity: 2},
		domain.Item{SlotID: 2, Quantity: 2},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 5, f.available(t, 1))
	assert.Equal(t, 2, f.available(t, 2))
}

// racingLedger simulates another instance appending the same key between
// this instance's lookup and its append.
type racingLedger struct {
	*memory.Ledger
	once sync.Once
}

func (l *racingLedger) Append(ctx context.Context, o domain.Order) (domain.Order, error) {
	l.once.Do(func() {
		winner := domain.NewOrder(domain.Requester{Name: "Other", Contact: "1"}, o.Items, o.IdempotencyKey)
		_, _ = l.Ledger.Append(ctx, winner)
	})
	return l.Ledger.Append(ctx, o)
}

func TestPlaceOrderLosingDuplicateRaceReplaysWinner(t *testing.T) {
	f := newFixture(&racingLedger{Ledger: memory.NewLedger()})

	out, err := f.service.PlaceOrder(context.Background(), request("raced", domain.Item{SlotID: 1, Quantity: 2}))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, "Other", out.Order.Name)

	// The winner's spaces were taken by the other instance, not this one.
	assert.Equal(t, 5, f.available(t, 1))
}

func TestPlaceOrderRejectsQuantityOverflow(t *testing.T) {
	f := newFixture(nil)

	_, err := f.service.PlaceOrder(context.Background(), request("huge", domain.Item{SlotID: 1, Quantity: math.MaxInt}))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "items[0].quantity")

	// Each line is in range but the per-slot sum is not.
	_, err = f.service.PlaceOrder(context.Background(), request("summed",
		domain.Item{SlotID: 1, Quantity: math.MaxInt32},
		domain.Item{SlotID: 1, Quantity: math.MaxInt32},
	))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "items")

	assert.Equal(t, 5, f.available(t, 1))
	orders, err := f.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// disconnectingLedger cancels the request context as the append starts and
// fails if that cancellation reaches it.
type disconnectingLedger struct {
	*memory.Ledger
	cancel context.CancelFunc
}

func (l *disconnectingLedger) Append(ctx context.Context, o domain.Order) (domain.Order, error) {
	l.cancel()
	select {
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	return l.Ledger.Append(ctx, o)
}

func TestPlaceOrderSurvivesClientDisconnectAfterReserve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(&disconnectingLedger{Ledger: memory.NewLedger(), cancel: cancel})

	out, err := f.service.PlaceOrder(ctx, request("gone", domain.Item{SlotID: 1, Quantity: 2}))
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.False(t, out.Rejected)

	orders, err := f.ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, out.Order.ID, orders[0].ID)
	assert.Equal(t, 3, f.available(t, 1))
}
