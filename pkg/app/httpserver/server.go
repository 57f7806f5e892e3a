// Package httpserver runs the Query Surface HTTP listener with the graceful
// shutdown ordering both services share (spec §5, §12): serve until the root
// context is cancelled or the listener fails, then drain within the
// configured grace period.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServeAndWait starts srv and blocks until ctx is cancelled or the listener
// exits on its own. Either way it then attempts a graceful shutdown bounded
// by shutdownTimeout, returning a non-nil error if the listener failed
// unexpectedly or the drain did not complete in time. logger must be non-nil.
func ServeAndWait(ctx context.Context, logger *zap.Logger, srv *http.Server, shutdownTimeout time.Duration) error {
	if srv == nil {
		return fmt.Errorf("httpserver: nil server")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("http server failed", zap.Error(runErr))
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down http server", zap.Duration("grace_period", shutdownTimeout))
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("httpserver: serve: %w", runErr)
	}

	logger.Info("http server stopped")
	return nil
}
