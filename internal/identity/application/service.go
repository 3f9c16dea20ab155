package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmehra2102/Lesson-Booking-System/internal/identity/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

type UserRepository interface {
	Create(ctx context.Context, u domain.User) error
	FindByEmail(ctx context.Context, email string) (domain.User, error)
}

// Service registers and checks users. The user it returns is an opaque
// requester identity; it does not issue sessions.
type Service struct {
	log  *zap.Logger
	repo UserRepository
	cost int
}

func NewService(log *zap.Logger, repo UserRepository, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{log: log, repo: repo, cost: cost}
}

func (s *Service) Signup(ctx context.Context, email, password string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, domain.ErrMissingCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		logging.Error(ctx, s.log, "Error hashing password", zap.Error(err))
		return domain.User{}, fmt.Errorf("error hashing password: %w", err)
	}

	u := domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if !errors.Is(err, domain.ErrUserAlreadyExists) {
			logging.Error(ctx, s.log, "Error creating user", zap.Error(err))
		}
		return domain.User{}, err
	}

	logging.Info(ctx, s.log, "User signed up", zap.String("user_id", u.ID.String()))
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, domain.ErrMissingCredentials
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
