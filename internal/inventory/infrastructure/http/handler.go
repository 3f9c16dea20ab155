package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/httpx"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

type Handler struct {
	log     *zap.Logger
	catalog application.Catalog
	tracer  trace.Tracer
}

func NewHandler(log *zap.Logger, catalog application.Catalog) *Handler {
	return &Handler{
		log:     log,
		catalog: catalog,
		tracer:  otel.Tracer("inventory-http"),
	}
}

type updateSlotReq struct {
	Title      *string `json:"title"`
	Location   *string `json:"location"`
	PriceCents *int64  `json:"priceCents"`
	Image      *string `json:"image"`
	Capacity   *int    `json:"capacity"`
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/slots", h.listSlots)
	r.Get("/lessons", h.listSlots)
	r.Get("/slots/{id}", h.getSlot)
	r.Put("/slots/{id}", h.updateSlot)
	r.Put("/lessons/{id}", h.updateSlot)
	r.Get("/search", h.search)
}

func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListSlots")
	defer span.End()

	slots, err := h.catalog.List(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(slots))
}

func (h *Handler) getSlot(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetSlot")
	defer span.End()

	id, ok := slotID(w, r)
	if !ok {
		return
	}

	slot, err := h.catalog.Get(ctx, id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slot)
}

func (h *Handler) updateSlot(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateSlot")
	defer span.End()

	id, ok := slotID(w, r)
	if !ok {
		return
	}

	var req updateSlotReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}

	slot, err := h.catalog.Update(ctx, id, domain.SlotUpdate{
		Title:      req.Title,
		Location:   req.Location,
		PriceCents: req.PriceCents,
		Image:      req.Image,
		Capacity:   req.Capacity,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slot)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SearchSlots")
	defer span.End()

	query := r.URL.Query().Get("q")
	if query == "" {
		query = r.URL.Query().Get("text")
	}

	slots, err := h.catalog.Search(ctx, query)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(slots))
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSlotNotFound):
		httpx.WriteError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, application.ErrEmptyUpdate):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCapacityBelowBooked):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSlotQuarantined),
		errors.Is(err, domain.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "slot temporarily not writable")
	case errors.Is(err, domain.ErrStoreUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		logging.Error(r.Context(), h.log, "catalog request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func slotID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid slot id")
		return 0, false
	}
	return id, true
}

func nonNil(slots []domain.Slot) []domain.Slot {
	if slots == nil {
		return []domain.Slot{}
	}
	return slots
}
