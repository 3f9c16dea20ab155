package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
)

// Store keeps slots in process memory. It satisfies both the reservation
// Store and the CatalogRepository.
type Store struct {
	mu    sync.RWMutex
	slots map[int64]domain.Slot
}

func NewStore(slots ...domain.Slot) *Store {
	s := &Store{slots: make(map[int64]domain.Slot, len(slots))}
	for _, slot := range slots {
		s.slots[slot.ID] = slot
	}
	return s
}

func (s *Store) Get(_ context.Context, id int64) (domain.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	return slot, nil
}

func (s *Store) TryApplyDelta(_ context.Context, id int64, delta int) (int, error) {
	if delta == 0 {
		return 0, domain.ErrInvalidDelta
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return 0, domain.ErrSlotNotFound
	}

	next := slot.Available + delta
	switch {
	case next < 0:
		return 0, &domain.InsufficientSpaceError{SlotID: id, Requested: -delta, Available: slot.Available}
	case next > slot.Capacity:
		return 0, domain.ErrOverCapacity
	}

	slot.Available = next
	slot.UpdatedAt = time.Now().UTC()
	s.slots[id] = slot
	return next, nil
}

func (s *Store) List(_ context.Context) ([]domain.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	sortByID(out)
	return out, nil
}

func (s *Store) Search(_ context.Context, query string) ([]domain.Slot, error) {
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Slot
	for _, slot := range s.slots {
		if strings.Contains(strings.ToLower(slot.Title), needle) ||
			strings.Contains(strings.ToLower(slot.Location), needle) {
			out = append(out, slot)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Store) Update(_ context.Context, id int64, update domain.SlotUpdate) (domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}

	updated, err := update.Apply(slot)
	if err != nil {
		return domain.Slot{}, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.slots[id] = updated
	return updated, nil
}

// Upsert inserts new slots and refreshes metadata of existing ones. The
// capacity and availability of an existing slot are left alone.
func (s *Store) Upsert(_ context.Context, slots []domain.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, slot := range slots {
		if existing, ok := s.slots[slot.ID]; ok {
			slot.Capacity = existing.Capacity
			slot.Available = existing.Available
		}
		slot.UpdatedAt = now
		s.slots[slot.ID] = slot
	}
	return nil
}

func sortByID(slots []domain.Slot) {
	slices.SortFunc(slots, func(a, b domain.Slot) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
