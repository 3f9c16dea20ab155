package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/Lesson-Booking-System/internal/config"
	orderkafka "github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/Lesson-Booking-System/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/logging"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/outbox"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/shutdown"
	"github.com/dmehra2102/Lesson-Booking-System/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Env: cfg.Env, Level: cfg.Log.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("booking-service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.Tracing.Endpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.pool != nil && len(cfg.Kafka.Brokers) > 0 {
		writer := orderkafka.NewWriter(cfg.Kafka.Brokers)
		defer func() { _ = writer.Close() }()

		store := orderpg.NewOutboxStore(log, a.pool, cfg.Kafka.MaxRetries)
		dispatch := outbox.NewDispatcher(log, writer, cfg.Kafka.Topic)
		hostname, _ := os.Hostname()
		relay := outbox.NewRelay(log, store, dispatch, cfg.ServiceName+"-"+hostname,
			outbox.WithInterval(cfg.Kafka.RelayInterval))

		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	err = g.Wait()

	if ids := a.engine.Quarantined(); len(ids) > 0 {
		log.Warn("exiting with quarantined slots", zap.Int64s("slot_ids", ids))
	}
	log.Info("booking-service shutdown complete")
	return err
}
