package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// WithSignals cancels the returned context on the first SIGINT or SIGTERM.
// A second signal exits the process without waiting for the drain.
func WithSignals(ctx context.Context, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			log.Info("shutdown requested", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		sig := <-ch
		log.Warn("forced exit", zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	return ctx, cancel
}
