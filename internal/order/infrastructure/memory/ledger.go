package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
)

type Ledger struct {
	mu     sync.RWMutex
	orders []domain.Order
	byKey  map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{byKey: make(map[string]int)}
}

func (l *Ledger) Append(_ context.Context, o domain.Order) (domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byKey[o.IdempotencyKey]; ok {
		return domain.Order{}, domain.ErrDuplicateIdempotencyKey
	}

	o.Items = slices.Clone(o.Items)
	l.byKey[o.IdempotencyKey] = len(l.orders)
	l.orders = append(l.orders, o)
	return o, nil
}

func (l *Ledger) FindByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byKey[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return l.orders[i], nil
}

// List returns orders newest first.
func (l *Ledger) List(_ context.Context) ([]domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Order, len(l.orders))
	for i, o := range l.orders {
		out[len(out)-1-i] = o
	}
	return out, nil
}
