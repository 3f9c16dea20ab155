package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
)

const slotColumns = `id, title, location, price_cents, image, capacity, available, updated_at`

type Repository struct {
	log    *zap.Logger
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewRepository(log *zap.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{
		log:    log,
		pool:   pool,
		tracer: otel.Tracer("inventory-postgres"),
	}
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Slot, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Get")
	defer span.End()

	span.SetAttributes(attribute.Int64("slot_id", id))

	slot, err := scanSlot(r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Slot{}, domain.ErrSlotNotFound
		}
		span.RecordError(err)
		return domain.Slot{}, unavailable(err)
	}
	return slot, nil
}

// TryApplyDelta is a single conditional UPDATE, so concurrent callers can
// never both pass the bound check against the same stale value.
func (r *Repository) TryApplyDelta(ctx context.Context, id int64, delta int) (int, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.TryApplyDelta")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("slot_id", id),
		attribute.Int("delta", delta),
	)

	if delta == 0 || delta > domain.MaxQuantity || delta < -domain.MaxQuantity {
		return 0, domain.ErrInvalidDelta
	}

	// Acquiring separately tells a connection failure, where nothing was
	// sent, apart from a failure mid-statement.
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, notApplied(err)
	}
	defer conn.Release()

	var available int
	err = conn.QueryRow(ctx, `
		UPDATE slots
		SET available = available + $2, updated_at = NOW()
		WHERE id = $1
			AND available + $2 >= 0
			AND available + $2 <= capacity
		RETURNING available
	`, id, delta).Scan(&available)
	if err == nil {
		return available, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		logging.Warn(ctx, r.log, "Conditional slot update failed",
			zap.Int64("slot_id", id),
			zap.Int("delta", delta),
			zap.Error(err),
		)
		if pgconn.SafeToRetry(err) {
			return 0, notApplied(err)
		}
		return 0, unavailable(err)
	}

	// Nothing matched: find out why for the caller's diagnostics only.
	var current int
	err = conn.QueryRow(ctx, `SELECT available FROM slots WHERE id = $1`, id).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, domain.ErrSlotNotFound
	case err != nil:
		// The UPDATE matched no row, so the slot is unchanged.
		span.RecordError(err)
		return 0, notApplied(err)
	case delta < 0:
		return 0, &domain.InsufficientSpaceError{SlotID: id, Requested: -delta, Available: current}
	default:
		return 0, fmt.Errorf("slot %d: %w", id, domain.ErrOverCapacity)
	}
}

func (r *Repository) List(ctx context.Context) ([]domain.Slot, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.List")
	defer span.End()

	return r.query(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY id`)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repository) Search(ctx context.Context, query string) ([]domain.Slot, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Search")
	defer span.End()

	span.SetAttributes(attribute.String("query", query))

	pattern := "%" + likeEscaper.Replace(query) + "%"
	return r.query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE title ILIKE $1 OR location ILIKE $1
		ORDER BY id
	`, pattern)
}

// Update writes metadata and, if requested, capacity. A capacity change
// moves available by the same amount inside the same statement and is
// refused if it would drop below the spaces already booked.
func (r *Repository) Update(ctx context.Context, id int64, update domain.SlotUpdate) (domain.Slot, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Update")
	defer span.End()

	span.SetAttributes(attribute.Int64("slot_id", id))

	var sets []string
	var args []any
	argID := 1

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argID))
		args = append(args, value)
		argID++
	}

	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Location != nil {
		add("location", *update.Location)
	}
	if update.PriceCents != nil {
		add("price_cents", *update.PriceCents)
	}
	if update.Image != nil {
		add("image", *update.Image)
	}

	guard := ""
	if update.Capacity != nil {
		sets = append(sets,
			fmt.Sprintf("capacity = $%d", argID),
			fmt.Sprintf("available = available + ($%d - capacity)", argID),
		)
		guard = fmt.Sprintf(" AND available + ($%d - capacity) >= 0", argID)
		args = append(args, *update.Capacity)
		argID++
	}

	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE slots SET %s WHERE id = $%d%s RETURNING %s`,
		strings.Join(sets, ", "), argID, guard, slotColumns)
	args = append(args, id)

	slot, err := scanSlot(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return domain.Slot{}, unavailable(err)
	}

	if _, getErr := r.Get(ctx, id); getErr != nil {
		return domain.Slot{}, getErr
	}
	return domain.Slot{}, domain.ErrCapacityBelowBooked
}

// Upsert inserts missing slots and refreshes metadata on existing ones
// without touching their capacity or availability.
func (r *Repository) Upsert(ctx context.Context, slots []domain.Slot) error {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("slots_count", len(slots)))

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO slots (id, title, location, price_cents, image, capacity, available)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title,
				location = EXCLUDED.location,
				price_cents = EXCLUDED.price_cents,
				image = EXCLUDED.image,
				updated_at = NOW()
		`, s.ID, s.Title, s.Location, s.PriceCents, s.Image, s.Capacity, s.Available)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert slots: %w", err)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]domain.Slot, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		logging.Error(ctx, r.log, "Failed to query slots", zap.Error(err))
		return nil, unavailable(err)
	}
	defer rows.Close()

	var slots []domain.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return slots, nil
}

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.Title, &s.Location, &s.PriceCents, &s.Image, &s.Capacity, &s.Available, &s.UpdatedAt)
	return s, err
}

// unavailable marks a driver failure as transient so the resilient store
// retries it. Context errors pass through untouched.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// notApplied is unavailable for a write the server never received.
func notApplied(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w: %w", domain.ErrStoreUnavailable, domain.ErrNotApplied, err)
}
