package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	invdomain "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

type PlaceOrderRequest struct {
	Requester      domain.Requester `json:"requester"`
	IdempotencyKey string           `json:"idempotencyKey" validate:"max=255"`
	Items          []domain.Item    `json:"items" validate:"required,min=1,dive"`
}

// Outcome of PlaceOrder. Exactly one of Order (possibly Replayed) or
// Rejected is meaningful.
type Outcome struct {
	Order    domain.Order
	Replayed bool
	Rejected bool
	Reasons  map[int64]invdomain.Reason
}

type Service struct {
	log      *zap.Logger
	ledger   Ledger
	reserver Reserver
	guard    IdempotencyGuard
	validate *validator.Validate
	metrics  *Metrics
	tracer   trace.Tracer
}

func NewService(log *zap.Logger, ledger Ledger, reserver Reserver, guard IdempotencyGuard, metrics *Metrics) *Service {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Service{
		log:      log,
		ledger:   ledger,
		reserver: reserver,
		guard:    guard,
		validate: newValidator(),
		metrics:  metrics,
		tracer:   otel.Tracer("order-service"),
	}
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	req.Requester.Name = strings.TrimSpace(req.Requester.Name)
	req.Requester.Contact = strings.TrimSpace(req.Requester.Contact)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if err := s.validate.Struct(req); err != nil {
		s.metrics.orders.WithLabelValues("invalid").Inc()
		return Outcome{}, validationError(err)
	}

	// Without a key the request cannot be recognised again, so it gets a
	// unique one and is never deduplicated.
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.Int("items_count", len(req.Items)),
	)

	release, err := s.guard.Acquire(ctx, req.IdempotencyKey)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("acquire idempotency key: %w", err)
	}
	defer release()

	existing, err := s.ledger.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		s.metrics.orders.WithLabelValues("replayed").Inc()
		logging.Info(ctx, s.log, "Replaying order for idempotency key",
			zap.String("order_id", existing.ID.String()),
		)
		return Outcome{Order: existing, Replayed: true}, nil
	case !errors.Is(err, domain.ErrOrderNotFound):
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	demands := make([]invdomain.Demand, len(req.Items))
	for i, item := range req.Items {
		demands[i] = invdomain.Demand{SlotID: item.SlotID, Quantity: item.Quantity}
	}

	result, err := s.reserver.Reserve(ctx, demands)
	if err != nil {
		span.RecordError(err)
		s.metrics.orders.WithLabelValues("error").Inc()
		return Outcome{}, fmt.Errorf("reserve: %w", err)
	}
	if !result.Committed {
		if result.Invalid != "" {
			s.metrics.orders.WithLabelValues("invalid").Inc()
			return Outcome{}, &domain.ValidationError{Fields: map[string]string{"items": result.Invalid}}
		}
		if result.HasReason(invdomain.ReasonInvalidQuantity) {
			s.metrics.orders.WithLabelValues("invalid").Inc()
			return Outcome{}, &domain.ValidationError{Fields: map[string]string{
				"items": fmt.Sprintf("total quantity per slot must be between 1 and %d", invdomain.MaxQuantity),
			}}
		}
		s.metrics.orders.WithLabelValues("rejected").Inc()
		logging.Info(ctx, s.log, "Order rejected", zap.Any("reasons", result.Reasons))
		return Outcome{Rejected: true, Reasons: result.Reasons}, nil
	}

	// The spaces are taken: recording the order, or giving them back, must
	// finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	order, err := s.ledger.Append(ctx, domain.NewOrder(req.Requester, req.Items, req.IdempotencyKey))
	if err != nil {
		return s.recoverAppend(ctx, req.IdempotencyKey, result.Demands, err)
	}

	s.metrics.orders.WithLabelValues("placed").Inc()
	logging.Info(ctx, s.log, "Order placed",
		zap.String("order_id", order.ID.String()),
		zap.Int("items_count", len(order.Items)),
	)
	return Outcome{Order: order}, nil
}

// recoverAppend gives the reserved spaces back after a failed ledger write.
// Losing a duplicate-key race to another instance is not a failure: that
// instance's order is the answer.
func (s *Service) recoverAppend(ctx context.Context, key string, demands []invdomain.Demand, appendErr error) (Outcome, error) {
	if err := s.reserver.Release(ctx, demands); err != nil {
		s.metrics.orders.WithLabelValues("error").Inc()
		logging.Error(ctx, s.log, "Failed to release reservation after ledger error",
			zap.NamedError("append_error", appendErr),
			zap.Error(err),
		)
		return Outcome{}, errors.Join(fmt.Errorf("append order: %w", appendErr), err)
	}

	if errors.Is(appendErr, domain.ErrDuplicateIdempotencyKey) {
		existing, err := s.ledger.FindByIdempotencyKey(ctx, key)
		if err == nil {
			s.metrics.orders.WithLabelValues("replayed").Inc()
			return Outcome{Order: existing, Replayed: true}, nil
		}
		appendErr = errors.Join(appendErr, err)
	}

	s.metrics.orders.WithLabelValues("error").Inc()
	logging.Error(ctx, s.log, "Failed to append order, reservation released", zap.Error(appendErr))
	return Outcome{}, fmt.Errorf("append order: %w", appendErr)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.ledger.List(ctx)
}
