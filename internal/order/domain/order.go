package domain

import (
	"time"

	"github.com/google/uuid"
)

// Requester identifies who placed an order. It is recorded as given and is
// not authenticated.
type Requester struct {
	Name    string `json:"name" validate:"required,max=200"`
	Contact string `json:"phone" validate:"required,max=64"`
}

type Item struct {
	SlotID   int64 `json:"slotId" validate:"gt=0"`
	Quantity int   `json:"quantity" validate:"gt=0,lte=2147483647"`
}

// Order is immutable once appended to the ledger.
type Order struct {
	ID uuid.UUID `json:"id"`
	Requester
	Items          []Item    `json:"items"`
	IdempotencyKey string    `json:"idempotencyKey"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewOrder(requester Requester, items []Item, idempotencyKey string) Order {
	return Order{
		ID:             uuid.New(),
		Requester:      requester,
		Items:          items,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}
