package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

// Catalog is the read-mostly view of slots used for browsing. It never
// writes Available except through the capacity-preserving update.
type Catalog interface {
	List(ctx context.Context) ([]domain.Slot, error)
	Get(ctx context.Context, id int64) (domain.Slot, error)
	Search(ctx context.Context, query string) ([]domain.Slot, error)
	Update(ctx context.Context, id int64, update domain.SlotUpdate) (domain.Slot, error)
	Seed(ctx context.Context, slots []domain.Slot) error
}

var ErrEmptyUpdate = errors.New("no updatable fields provided")

type CatalogOption func(*catalogService)

// WithSlotLocker makes capacity changes take the slot's reservation lock,
// so they are refused while the slot is quarantined.
func WithSlotLocker(l SlotLocker) CatalogOption {
	return func(s *catalogService) { s.locker = l }
}

type catalogService struct {
	repo   CatalogRepository
	locker SlotLocker
	log    *zap.Logger
	tracer trace.Tracer
}

func NewCatalog(log *zap.Logger, repo CatalogRepository, opts ...CatalogOption) Catalog {
	s := &catalogService{
		repo:   repo,
		log:    log,
		tracer: otel.Tracer("inventory-catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *catalogService) List(ctx context.Context) ([]domain.Slot, error) {
	return s.repo.List(ctx)
}

func (s *catalogService) Get(ctx context.Context, id int64) (domain.Slot, error) {
	return s.repo.Get(ctx, id)
}

func (s *catalogService) Search(ctx context.Context, query string) ([]domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "Catalog.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	span.SetAttributes(attribute.String("query", query))

	if query == "" {
		return s.repo.List(ctx)
	}
	return s.repo.Search(ctx, query)
}

func (s *catalogService) Update(ctx context.Context, id int64, update domain.SlotUpdate) (domain.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "Catalog.Update")
	defer span.End()

	span.SetAttributes(attribute.Int64("slot_id", id))

	if update.Empty() {
		return domain.Slot{}, ErrEmptyUpdate
	}
	if update.Capacity != nil && *update.Capacity < 0 {
		return domain.Slot{}, domain.ErrCapacityBelowBooked
	}

	// Capacity moves available, which only the reservation path may do
	// while it holds the slot.
	if update.Capacity != nil && s.locker != nil {
		unlock, err := s.locker.LockSlot(ctx, id)
		if err != nil {
			logging.Warn(ctx, s.log, "slot capacity update refused", zap.Int64("slot_id", id), zap.Error(err))
			return domain.Slot{}, err
		}
		defer unlock()
	}

	slot, err := s.repo.Update(ctx, id, update)
	if err != nil {
		if !errors.Is(err, domain.ErrSlotNotFound) && !errors.Is(err, domain.ErrCapacityBelowBooked) {
			span.RecordError(err)
			logging.Error(ctx, s.log, "slot update failed", zap.Int64("slot_id", id), zap.Error(err))
		}
		return domain.Slot{}, err
	}

	logging.Info(ctx, s.log, "slot updated", zap.Int64("slot_id", id))
	return slot, nil
}

func (s *catalogService) Seed(ctx context.Context, slots []domain.Slot) error {
	for _, slot := range slots {
		if slot.ID <= 0 {
			return fmt.Errorf("seed slot %q: id must be positive", slot.Title)
		}
		if slot.Capacity < 0 || slot.Available < 0 || slot.Available > slot.Capacity {
			return fmt.Errorf("seed slot %d: available %d outside [0, %d]", slot.ID, slot.Available, slot.Capacity)
		}
	}

	if err := s.repo.Upsert(ctx, slots); err != nil {
		return fmt.Errorf("seed slots: %w", err)
	}

	logging.Info(ctx, s.log, "slots seeded", zap.Int("count", len(slots)))
	return nil
}
