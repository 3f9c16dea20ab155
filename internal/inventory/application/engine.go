package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/keylock"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

const (
	defaultLockTimeout            = 2 * time.Second
	defaultCompensationMaxElapsed = 30 * time.Second
)

type Option func(*Engine)

func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithCompensationMaxElapsed bounds how long a failing compensation is
// retried before it is declared a consistency violation.
func WithCompensationMaxElapsed(d time.Duration) Option {
	return func(e *Engine) { e.compensationMaxElapsed = d }
}

func WithAlertHook(hook AlertHook) Option {
	return func(e *Engine) { e.alert = hook }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine applies multi-slot reservations all-or-nothing. Slots are locked
// in ascending id order so overlapping requests cannot deadlock, and every
// decrement goes through Store.TryApplyDelta.
type Engine struct {
	log    *zap.Logger
	store  Store
	locks  *keylock.Map[int64]
	tracer trace.Tracer

	metrics                *Metrics
	alert                  AlertHook
	lockTimeout            time.Duration
	compensationMaxElapsed time.Duration

	mu          sync.RWMutex
	quarantined map[int64]*domain.ConsistencyViolationError
}

func NewEngine(log *zap.Logger, store Store, opts ...Option) *Engine {
	e := &Engine{
		log:                    log,
		store:                  store,
		locks:                  keylock.New[int64](),
		tracer:                 otel.Tracer("inventory-reservation"),
		lockTimeout:            defaultLockTimeout,
		compensationMaxElapsed: defaultCompensationMaxElapsed,
		quarantined:            make(map[int64]*domain.ConsistencyViolationError),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return e
}

// Reserve decrements every demanded slot or none of them. A rejection is a
// normal outcome and is returned as a Result with a nil error; the error is
// reserved for store failures, lock timeouts and consistency violations.
func (e *Engine) Reserve(ctx context.Context, items []domain.Demand) (domain.Result, error) {
	ctx, span := e.tracer.Start(ctx, "ReservationEngine.Reserve")
	defer span.End()

	span.SetAttributes(attribute.Int("items_count", len(items)))

	if len(items) == 0 {
		e.metrics.reservations.WithLabelValues("invalid").Inc()
		return domain.Invalid("request contains no items"), nil
	}

	demands, invalid := domain.Coalesce(items)
	if invalid != nil {
		e.metrics.reservations.WithLabelValues("invalid").Inc()
		return domain.Rejected(invalid), nil
	}

	unlock, err := e.lockAll(ctx, demands, e.lockTimeout)
	if err != nil {
		span.RecordError(err)
		e.metrics.reservations.WithLabelValues("error").Inc()
		return domain.Result{}, err
	}
	defer unlock()

	if err := e.checkQuarantine(demands); err != nil {
		e.metrics.reservations.WithLabelValues("error").Inc()
		return domain.Result{}, err
	}

	// Past this point the batch must end in full commit or full rollback,
	// so caller cancellation no longer applies.
	ctx = context.WithoutCancel(ctx)

	applied := make([]domain.Demand, 0, len(demands))
	reasons := make(map[int64]domain.Reason)
	var storeErr error

	for _, d := range demands {
		if len(reasons) > 0 {
			e.diagnose(ctx, d, reasons)
			continue
		}

		_, err := e.store.TryApplyDelta(ctx, d.SlotID, -d.Quantity)
		if err == nil {
			applied = append(applied, d)
			continue
		}

		var insufficient *domain.InsufficientSpaceError
		switch {
		case errors.Is(err, domain.ErrSlotNotFound):
			reasons[d.SlotID] = domain.NotFound()
		case errors.As(err, &insufficient):
			reasons[d.SlotID] = domain.InsufficientSpace(d.Quantity, insufficient.Available)
		default:
			storeErr = fmt.Errorf("reserve slot %d: %w", d.SlotID, err)
		}
		if storeErr != nil {
			break
		}
	}

	if len(reasons) == 0 && storeErr == nil {
		e.metrics.reservations.WithLabelValues("committed").Inc()
		logging.Debug(ctx, e.log, "reservation committed", zap.Int("slots", len(demands)))
		return domain.Committed(demands), nil
	}

	if err := e.compensate(ctx, applied); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		e.metrics.reservations.WithLabelValues("error").Inc()
		return domain.Result{}, errors.Join(storeErr, err)
	}

	if storeErr != nil {
		span.RecordError(storeErr)
		e.metrics.reservations.WithLabelValues("error").Inc()
		return domain.Result{}, storeErr
	}

	e.metrics.reservations.WithLabelValues("rejected").Inc()
	logging.Info(ctx, e.log, "reservation rejected", zap.Int("failed_slots", len(reasons)))
	return domain.Rejected(reasons), nil
}

// Release gives back spaces taken by a committed reservation, e.g. when the
// order that owns them could not be recorded.
func (e *Engine) Release(ctx context.Context, demands []domain.Demand) error {
	ctx, span := e.tracer.Start(ctx, "ReservationEngine.Release")
	defer span.End()

	demands, invalid := domain.Coalesce(demands)
	if invalid != nil {
		return fmt.Errorf("release: invalid quantities for %d slots", len(invalid))
	}
	if len(demands) == 0 {
		return nil
	}

	// Release is itself compensation: it is not abandoned on cancellation.
	ctx = context.WithoutCancel(ctx)

	// Lock holders are bounded by store calls, so release waits without a timeout.
	unlock, err := e.lockAll(ctx, demands, 0)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.compensate(ctx, demands); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return err
	}
	return nil
}

// LockSlot takes the reservation lock for one slot so another writer can
// change it without racing a batch. It fails with ErrSlotQuarantined when
// the slot's writes are halted.
func (e *Engine) LockSlot(ctx context.Context, id int64) (func(), error) {
	demands := []domain.Demand{{SlotID: id}}

	unlock, err := e.lockAll(ctx, demands, e.lockTimeout)
	if err != nil {
		return nil, err
	}
	if err := e.checkQuarantine(demands); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

// Quarantined lists slots whose writes are halted after a failed compensation.
func (e *Engine) Quarantined() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]int64, 0, len(e.quarantined))
	for id := range e.quarantined {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ClearQuarantine re-enables writes to a slot once an operator has repaired it.
func (e *Engine) ClearQuarantine(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.quarantined, id)
}

func (e *Engine) lockAll(ctx context.Context, demands []domain.Demand, timeout time.Duration) (func(), error) {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	held := make([]int64, 0, len(demands))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			e.locks.Unlock(held[i])
		}
	}

	for _, d := range demands {
		if err := e.locks.Lock(lockCtx, d.SlotID); err != nil {
			unlock()
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("slot %d: %w", d.SlotID, domain.ErrLockTimeout)
			}
			return nil, fmt.Errorf("slot %d: %w", d.SlotID, err)
		}
		held = append(held, d.SlotID)
	}

	e.metrics.lockWait.Observe(time.Since(start).Seconds())
	return unlock, nil
}

func (e *Engine) checkQuarantine(demands []domain.Demand) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, d := range demands {
		if v, ok := e.quarantined[d.SlotID]; ok {
			return fmt.Errorf("slot %d: %w: %w", d.SlotID, domain.ErrSlotQuarantined, v)
		}
	}
	return nil
}

// diagnose explains why a demand would fail without applying it. It runs
// only after the batch is already rejected, while the slot lock is held.
func (e *Engine) diagnose(ctx context.Context, d domain.Demand, reasons map[int64]domain.Reason) {
	slot, err := e.store.Get(ctx, d.SlotID)
	switch {
	case errors.Is(err, domain.ErrSlotNotFound):
		reasons[d.SlotID] = domain.NotFound()
	case err != nil:
		logging.Warn(ctx, e.log, "diagnostic slot read failed", zap.Int64("slot_id", d.SlotID), zap.Error(err))
		reasons[d.SlotID] = domain.Reason{Code: domain.ReasonUnknown, Requested: d.Quantity}
	case slot.Available < d.Quantity:
		reasons[d.SlotID] = domain.InsufficientSpace(d.Quantity, slot.Available)
	}
}

// compensate returns the given demands to their slots. Each positive delta is
// retried with backoff; one that still cannot be applied quarantines the
// slot and raises a consistency violation. The remaining demands are still
// attempted.
func (e *Engine) compensate(ctx context.Context, applied []domain.Demand) error {
	var errs []error
	for _, d := range applied {
		err := e.applyWithRetry(ctx, d.SlotID, d.Quantity)
		if err == nil {
			e.metrics.compensations.Inc()
			continue
		}

		violation := &domain.ConsistencyViolationError{SlotID: d.SlotID, Delta: d.Quantity, Err: err}
		e.raise(ctx, violation)
		errs = append(errs, violation)
	}
	return errors.Join(errs...)
}

func (e *Engine) applyWithRetry(ctx context.Context, id int64, delta int) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = e.compensationMaxElapsed

	return backoff.RetryNotify(func() error {
		_, err := e.store.TryApplyDelta(ctx, id, delta)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrSlotNotFound) || errors.Is(err, domain.ErrOverCapacity) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logging.Warn(ctx, e.log, "compensation attempt failed, retrying",
			zap.Int64("slot_id", id),
			zap.Int("delta", delta),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
}

func (e *Engine) raise(ctx context.Context, v *domain.ConsistencyViolationError) {
	e.mu.Lock()
	e.quarantined[v.SlotID] = v
	e.mu.Unlock()

	e.metrics.violations.Inc()
	logging.Error(ctx, e.log, "CONSISTENCY VIOLATION: compensation failed, slot quarantined",
		zap.Int64("slot_id", v.SlotID),
		zap.Int("lost_spaces", v.Delta),
		zap.Error(v.Err),
	)

	if e.alert != nil {
		e.alert(ctx, v)
	}
}
