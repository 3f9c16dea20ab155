package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	invapp "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	invmemory "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/memory"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/idempotency"
)

func newRouter() (chi.Router, *invmemory.Store) {
	store := invmemory.NewStore(
		invdomain.Slot{ID: 1, Title: "Maths", Capacity: 5, Available: 5},
		invdomain.Slot{ID: 2, Title: "Art", Capacity: 1, Available: 1},
	)
	engine := invapp.NewEngine(zap.NewNop(), store)
	svc := application.NewService(zap.NewNop(), memory.NewLedger(), engine, idempotency.NewLocal(), nil)

	r := chi.NewRouter()
	NewHandler(zap.NewNop(), svc).Register(r)
	return r, store
}

func post(r http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderCreated(t *testing.T) {
	r, store := newRouter()

	rec := post(r, `{"name":"Ada","phone":"0123","items":[{"slotId":1,"quantity":2}]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "Ada", order.Name)
	assert.Equal(t, "0123", order.Contact)
	assert.Equal(t, []domain.Item{{SlotID: 1, Quantity: 2}}, order.Items)

	slot, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, slot.Available)
}

func TestCreateOrderAcceptsLegacyFields(t *testing.T) {
	r, _ := newRouter()

	rec := post(r, `{"name":"Ada","phone":"0123","items":[{"lessonId":1,"spaces":1}]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"slotId":1`)
}

func TestCreateOrderReplayUsesHeaderKey(t *testing.T) {
	r, store := newRouter()
	body := `{"name":"Ada","phone":"0123","idempotencyKey":"ignored","items":[{"slotId":1,"quantity":1}]}`
	headers := map[string]string{IdempotencyKeyHeader: "abc"}

	first := post(r, body, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(r, body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(IdempotentReplayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Contains(t, second.Body.String(), `"idempotencyKey":"abc"`)

	slot, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, slot.Available)
}

func TestCreateOrderRejections(t *testing.T) {
	r, _ := newRouter()

	rec := post(r, `{"name":"Ada","phone":"0123","items":[{"slotId":2,"quantity":2}]}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Reasons map[string]invdomain.Reason `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, invdomain.InsufficientSpace(2, 1), body.Reasons["2"])

	rec = post(r, `{"name":"Ada","phone":"0123","items":[{"slotId":2,"quantity":2},{"slotId":404,"quantity":1}]}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateOrderBadRequests(t *testing.T) {
	r, _ := newRouter()

	assert.Equal(t, http.StatusBadRequest, post(r, `{not json`, nil).Code)

	rec := post(r, `{"name":"","phone":"0123","items":[{"slotId":1,"quantity":-1}]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "requester.name")
	assert.Contains(t, rec.Body.String(), "items[0].quantity")

	assert.Equal(t, http.StatusBadRequest, post(r, `{"name":"Ada","phone":"0123","items":[]}`, nil).Code)
}

type stubService struct{ err error }

func (s stubService) PlaceOrder(context.Context, application.PlaceOrderRequest) (application.Outcome, error) {
	return application.Outcome{}, s.err
}

func (s stubService) ListOrders(context.Context) ([]domain.Order, error) {
	return nil, s.err
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"store unavailable": {err: invdomain.ErrStoreUnavailable, want: http.StatusServiceUnavailable},
		"lock timeout":      {err: invdomain.ErrLockTimeout, want: http.StatusServiceUnavailable},
		"quarantined":       {err: invdomain.ErrSlotQuarantined, want: http.StatusServiceUnavailable},
		"violation": {
			err:  &invdomain.ConsistencyViolationError{SlotID: 1, Delta: 1, Err: invdomain.ErrStoreUnavailable},
			want: http.StatusInternalServerError,
		},
		"unexpected": {err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(zap.NewNop(), stubService{err: tc.err}).Register(r)

			rec := post(r, `{"name":"Ada","phone":"0123","items":[{"slotId":1,"quantity":1}]}`, nil)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestListOrders(t *testing.T) {
	r, _ := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.Equal(t, http.StatusCreated, post(r, `{"name":"Ada","phone":"0123","items":[{"slotId":1,"quantity":1}]}`, nil).Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	var orders []domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)
}
