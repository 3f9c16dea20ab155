package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	invdomain "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/httpx"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/idempotency"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

const (
	IdempotencyKeyHeader   = "Idempotency-Key"
	IdempotentReplayHeader = "Idempotent-Replayed"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, req application.PlaceOrderRequest) (application.Outcome, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

type Handler struct {
	log     *zap.Logger
	service OrderService
	tracer  trace.Tracer
}

func NewHandler(log *zap.Logger, service OrderService) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

// itemReq also accepts the lessonId/spaces names older clients send.
type itemReq struct {
	SlotID   *int64 `json:"slotId"`
	Quantity *int   `json:"quantity"`
	LessonID *int64 `json:"lessonId"`
	Spaces   *int   `json:"spaces"`
}

func (i itemReq) toItem() domain.Item {
	var item domain.Item
	switch {
	case i.SlotID != nil:
		item.SlotID = *i.SlotID
	case i.LessonID != nil:
		item.SlotID = *i.LessonID
	}
	switch {
	case i.Quantity != nil:
		item.Quantity = *i.Quantity
	case i.Spaces != nil:
		item.Quantity = *i.Spaces
	}
	return item
}

type createOrderReq struct {
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Items          []itemReq `json:"items"`
}

type rejectionResp struct {
	Error   string                     `json:"error"`
	Reasons map[int64]invdomain.Reason `json:"reasons"`
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}

	key := req.IdempotencyKey
	if header := r.Header.Get(IdempotencyKeyHeader); header != "" {
		key = header
	}

	var items []domain.Item
	for _, it := range req.Items {
		items = append(items, it.toItem())
	}

	out, err := h.service.PlaceOrder(ctx, application.PlaceOrderRequest{
		Requester:      domain.Requester{Name: req.Name, Contact: req.Phone},
		IdempotencyKey: key,
		Items:          items,
	})
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}

	switch {
	case out.Rejected:
		status := http.StatusConflict
		if hasNotFound(out.Reasons) {
			status = http.StatusUnprocessableEntity
		}
		httpx.WriteJSON(w, status, rejectionResp{Error: "reservation rejected", Reasons: out.Reasons})
	case out.Replayed:
		w.Header().Set(IdempotentReplayHeader, "true")
		httpx.WriteJSON(w, http.StatusOK, out.Order)
	default:
		httpx.WriteJSON(w, http.StatusCreated, out.Order)
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	orders, err := h.service.ListOrders(ctx)
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) writeErr(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var violation *invdomain.ConsistencyViolationError

	switch {
	case errors.As(err, &verr):
		httpx.WriteErrorDetails(w, http.StatusBadRequest, "validation failed", verr.Fields)
	case errors.As(err, &violation):
		logging.Error(ctx, h.log, "Order failed with consistency violation", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	case errors.Is(err, invdomain.ErrStoreUnavailable),
		errors.Is(err, invdomain.ErrLockTimeout),
		errors.Is(err, invdomain.ErrSlotQuarantined),
		errors.Is(err, idempotency.ErrKeyBusy):
		logging.Warn(ctx, h.log, "Order temporarily unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		logging.Error(ctx, h.log, "Order request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func hasNotFound(reasons map[int64]invdomain.Reason) bool {
	for _, r := range reasons {
		if r.Code == invdomain.ReasonNotFound {
			return true
		}
	}
	return false
}
