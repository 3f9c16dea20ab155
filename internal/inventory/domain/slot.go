package domain

import "time"

// Slot is a bookable lesson. Capacity and Available are owned by the
// inventory store; everything else is display metadata.
type Slot struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Location   string    `json:"location"`
	PriceCents int64     `json:"priceCents"`
	Image      string    `json:"image,omitempty"`
	Capacity   int       `json:"capacity"`
	Available  int       `json:"available"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (s Slot) Booked() int {
	return s.Capacity - s.Available
}

// SlotUpdate carries the fields a catalog update may touch. Nil means
// unchanged. Available is deliberately absent.
type SlotUpdate struct {
	Title      *string `json:"title,omitempty"`
	Location   *string `json:"location,omitempty"`
	PriceCents *int64  `json:"priceCents,omitempty"`
	Image      *string `json:"image,omitempty"`
	Capacity   *int    `json:"capacity,omitempty"`
}

func (u SlotUpdate) Empty() bool {
	return u.Title == nil && u.Location == nil && u.PriceCents == nil && u.Image == nil && u.Capacity == nil
}

// Apply returns s with the update applied. A capacity change shifts
// Available by the same amount so the booked count is preserved.
func (u SlotUpdate) Apply(s Slot) (Slot, error) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.Location != nil {
		s.Location = *u.Location
	}
	if u.PriceCents != nil {
		s.PriceCents = *u.PriceCents
	}
	if u.Image != nil {
		s.Image = *u.Image
	}
	if u.Capacity != nil {
		if *u.Capacity < s.Booked() {
			return Slot{}, ErrCapacityBelowBooked
		}
		s.Available += *u.Capacity - s.Capacity
		s.Capacity = *u.Capacity
	}
	return s, nil
}
