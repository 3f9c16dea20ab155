package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dmehra2102/Lesson-Booking-System/internal/config"
	idapp "github.com/dmehra2102/Lesson-Booking-System/internal/identity/application"
	idhttp "github.com/dmehra2102/Lesson-Booking-System/internal/identity/infrastructure/http"
	idmemory "github.com/dmehra2102/Lesson-Booking-System/internal/identity/infrastructure/memory"
	idpg "github.com/dmehra2102/Lesson-Booking-System/internal/identity/infrastructure/postgres"
	invapp "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/application"
	invdomain "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/domain"
	invhttp "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/http"
	invmemory "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/memory"
	invpg "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/postgres"
	invredis "github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/redis"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/resilient"
	"github.com/dmehra2102/Lesson-Booking-System/internal/inventory/infrastructure/seed"
	orderapp "github.com/dmehra2102/Lesson-Booking-System/internal/order/application"
	orderhttp "github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/http"
	ordermemory "github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/memory"
	orderpg "github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/Lesson-Booking-System/internal/server"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/idempotency"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
	pgpkg "github.com/dmehra2102/Lesson-Booking-System/pkg/postgres"
)

type slotStore interface {
	invapp.Store
	invapp.CatalogRepository
}

// app holds everything built from config. Pool and Redis are nil when the
// corresponding backend is not configured.
type app struct {
	handler http.Handler
	engine  *invapp.Engine
	pool    *pgxpool.Pool
	rdb     *redis.Client
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		slots  slotStore
		ledger orderapp.Ledger
		users  idapp.UserRepository
	)

	switch cfg.Storage.Driver {
	case "postgres":
		if err := pgpkg.Migrate(cfg.Postgres.URL, log); err != nil {
			return nil, err
		}
		pool, err := pgpkg.NewPool(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		a.pool = pool

		slots = invpg.NewRepository(log, pool)
		ledger = orderpg.NewRepository(log, pool)
		users = idpg.NewRepository(pool)
	default:
		slots = invmemory.NewStore()
		ledger = ordermemory.NewLedger()
		users = idmemory.NewRepository()
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	store := resilient.New(log, slots, resilient.Config{
		RetryMaxElapsed:  cfg.Store.RetryMaxElapsed,
		BreakerTimeout:   cfg.Store.BreakerTimeout,
		BreakerMinCalls:  cfg.Store.BreakerMinCalls,
		BreakerFailRatio: cfg.Store.BreakerFailRatio,
	})

	a.engine = invapp.NewEngine(log, store,
		invapp.WithLockTimeout(cfg.Reservation.LockTimeout),
		invapp.WithCompensationMaxElapsed(cfg.Reservation.CompensationMaxElapsed),
		invapp.WithMetrics(invapp.NewMetrics(reg)),
		invapp.WithAlertHook(func(ctx context.Context, v *invdomain.ConsistencyViolationError) {
			logging.Error(ctx, log, "ALERT: slot needs manual repair",
				zap.Int64("slot_id", v.SlotID),
				zap.Int("missing_spaces", v.Delta),
			)
		}),
	)

	catalog := invapp.NewCatalog(log, slots, invapp.WithSlotLocker(a.engine))
	var guard orderapp.IdempotencyGuard = idempotency.NewLocal()
	if a.rdb != nil {
		catalog = invredis.NewCachedCatalog(log, catalog, a.rdb, cfg.Redis.SearchCacheTTL)
		guard = idempotency.NewRedis(a.rdb, cfg.Redis.LeaseTTL, cfg.Redis.LeaseWait)
	}

	if cfg.Seed.File != "" {
		fixtures, err := seed.LoadFile(cfg.Seed.File)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := catalog.Seed(ctx, fixtures); err != nil {
			a.Close()
			return nil, err
		}
	}

	orders := orderapp.NewService(log, ledger, a.engine, guard, orderapp.NewMetrics(reg))
	identity := idapp.NewService(log, users, 0)

	a.handler = server.NewRouter(log,
		server.Options{
			ServiceName: cfg.ServiceName,
			ImagesDir:   cfg.HTTP.ImagesDir,
			Gatherer:    reg,
		},
		invhttp.NewHandler(log, catalog),
		orderhttp.NewHandler(log, orders),
		idhttp.NewHandler(log, identity),
	)
	return a, nil
}
