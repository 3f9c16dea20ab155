package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/Lesson-Booking-System/internal/identity/domain"
)

type Repository struct {
	mu      sync.RWMutex
	byEmail map[string]domain.User
}

func NewRepository() *Repository {
	return &Repository{byEmail: make(map[string]domain.User)}
}

func (r *Repository) Create(_ context.Context, u domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return domain.ErrUserAlreadyExists
	}
	r.byEmail[u.Email] = u
	return nil
}

func (r *Repository) FindByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byEmail[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}
