package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/order/domain"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/tracing"
)

const uniqueViolation = "23505"

// Repository is the Postgres order ledger. Every appended order also gets an
// OrderPlaced outbox row in the same transaction.
type Repository struct {
	log    *zap.Logger
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewRepository(log *zap.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{
		log:    log,
		pool:   pool,
		tracer: otel.Tracer("order-postgres"),
	}
}

func (r *Repository) Append(ctx context.Context, o domain.Order) (domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderLedger.Append")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", o.ID.String()))

	payload, err := json.Marshal(domain.NewOrderPlaced(o))
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal event: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, requester_name, requester_contact, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, o.ID, o.Name, o.Contact, o.IdempotencyKey, o.CreatedAt).Scan(&o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Order{}, domain.ErrDuplicateIdempotencyKey
		}
		span.RecordError(err)
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, position, slot_id, quantity) VALUES ($1, $2, $3, $4)`,
			o.ID, i, item.SlotID, item.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		return domain.Order{}, fmt.Errorf("insert order items: %w", err)
	}

	headers := map[string]string{"idempotency_key": o.IdempotencyKey}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
	`, "order", o.ID.String(), domain.EventOrderPlaced, payload, headers, tracing.Traceparent(ctx))
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return domain.Order{}, fmt.Errorf("commit order: %w", err)
	}

	logging.Debug(ctx, r.log, "Order appended", zap.String("order_id", o.ID.String()))
	return o, nil
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderLedger.FindByIdempotencyKey")
	defer span.End()

	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, requester_name, requester_contact, idempotency_key, created_at
		FROM orders WHERE idempotency_key = $1
	`, key).Scan(&o.ID, &o.Name, &o.Contact, &o.IdempotencyKey, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		span.RecordError(err)
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}

	items, err := r.items(ctx, []uuid.UUID{o.ID})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderLedger.List")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT id, requester_name, requester_contact, idempotency_key, created_at
		FROM orders ORDER BY created_at DESC, id
	`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		var o domain.Order
		err := row.Scan(&o.ID, &o.Name, &o.Contact, &o.IdempotencyKey, &o.CreatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	if len(orders) == 0 {
		return []domain.Order{}, nil
	}

	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *Repository) items(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.Item, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := r.pool.Query(ctx, `
		SELECT order_id, slot_id, quantity
		FROM order_items WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.Item, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var item domain.Item
		if err := rows.Scan(&id, &item.SlotID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[id] = append(out[id], item)
	}
	return out, rows.Err()
}
