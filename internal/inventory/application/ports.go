package application

import (
	"context"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
)

// Store is the single writer of slot availability. TryApplyDelta must be an
// atomic check-and-set: it succeeds only if available+delta stays within
// [0, capacity] and otherwise leaves the slot unchanged.
type Store interface {
	Get(ctx context.Context, id int64) (domain.Slot, error)
	TryApplyDelta(ctx context.Context, id int64, delta int) (int, error)
}

type CatalogRepository interface {
	List(ctx context.Context) ([]domain.Slot, error)
	Get(ctx context.Context, id int64) (domain.Slot, error)
	Search(ctx context.Context, query string) ([]domain.Slot, error)
	Update(ctx context.Context, id int64, update domain.SlotUpdate) (domain.Slot, error)
	Upsert(ctx context.Context, slots []domain.Slot) error
}

// SlotLocker serializes out-of-band writes to a slot with reservations and
// refuses slots that are quarantined.
type SlotLocker interface {
	LockSlot(ctx context.Context, id int64) (func(), error)
}

// AlertHook is invoked for every consistency violation, after it has been
// logged and counted.
type AlertHook func(ctx context.Context, violation *domain.ConsistencyViolationError)
