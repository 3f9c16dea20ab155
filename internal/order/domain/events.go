package domain

import "time"

const EventOrderPlaced = "OrderPlaced"

type OrderPlaced struct {
	OrderID        string    `json:"orderId"`
	RequesterName  string    `json:"requesterName"`
	Items          []Item    `json:"items"`
	IdempotencyKey string    `json:"idempotencyKey"`
	PlacedAt       time.Time `json:"placedAt"`
}

func NewOrderPlaced(o Order) OrderPlaced {
	return OrderPlaced{
		OrderID:        o.ID.String(),
		RequesterName:  o.Name,
		Items:          o.Items,
		IdempotencyKey: o.IdempotencyKey,
		PlacedAt:       o.CreatedAt,
	}
}
