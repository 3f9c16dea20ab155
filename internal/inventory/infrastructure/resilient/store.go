package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
)

type Config struct {
	RetryMaxElapsed  time.Duration
	BreakerTimeout   time.Duration
	BreakerMinCalls  uint32
	BreakerFailRatio float64
}

func DefaultConfig() Config {
	return Config{
		RetryMaxElapsed:  2 * time.Second,
		BreakerTimeout:   10 * time.Second,
		BreakerMinCalls:  5,
		BreakerFailRatio: 0.6,
	}
}

// Store guards another Store with a circuit breaker. Reads are retried on
// transient failures. A delta is retried only when the failure is marked
// ErrNotApplied: one whose outcome is unknown must not be applied twice.
type Store struct {
	next    application.Store
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker
	cfg     Config
}

func New(log *zap.Logger, next application.Store, cfg Config) *Store {
	settings := gobreaker.Settings{
		Name:        "SlotStore",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.BreakerMinCalls && failureRatio >= cfg.BreakerFailRatio
		},
		// Business outcomes are answers from a healthy store.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrStoreUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Store{
		next:    next,
		log:     log,
		breaker: gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
	}
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Slot, error) {
	var slot domain.Slot
	err := s.retry(ctx, "read", id, func() error {
		res, err := s.execute(func() (any, error) {
			return s.next.Get(ctx, id)
		})
		if err != nil {
			return err
		}
		slot = res.(domain.Slot)
		return nil
	}, func(err error) bool {
		return errors.Is(err, domain.ErrStoreUnavailable)
	})
	return slot, err
}

func (s *Store) TryApplyDelta(ctx context.Context, id int64, delta int) (int, error) {
	var available int
	err := s.retry(ctx, "delta", id, func() error {
		res, err := s.execute(func() (any, error) {
			return s.next.TryApplyDelta(ctx, id, delta)
		})
		if err != nil {
			return err
		}
		available = res.(int)
		return nil
	}, func(err error) bool {
		return errors.Is(err, domain.ErrNotApplied)
	})
	return available, err
}

func (s *Store) retry(ctx context.Context, op string, id int64, fn func() error, retryable func(error) bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxElapsedTime = s.cfg.RetryMaxElapsed

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		s.log.Debug("Retrying slot "+op,
			zap.Int64("slot_id", id),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
}

func (s *Store) State() gobreaker.State {
	return s.breaker.State()
}

func (s *Store) execute(fn func() (any, error)) (any, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return res, err
}
