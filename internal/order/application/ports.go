package application

import (
	"context"

	invdomain "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
)

// Ledger is the append-only record of accepted orders.
type Ledger interface {
	Append(ctx context.Context, o domain.Order) (domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}

type Reserver interface {
	Reserve(ctx context.Context, items []invdomain.Demand) (invdomain.Result, error)
	Release(ctx context.Context, demands []invdomain.Demand) error
}

// IdempotencyGuard serializes work sharing a key. The returned func releases
// the key and must always be called.
type IdempotencyGuard interface {
	Acquire(ctx context.Context, key string) (func(), error)
}
