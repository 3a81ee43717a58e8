package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv on listener until ctx is cancelled or the process receives
// SIGINT or SIGTERM. It then drains in-flight requests for at most
// shutdownTimeout before running hooks.
func Serve(ctx context.Context, srv *http.Server, listener net.Listener, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", listener.Addr().String()).Msg("server: listening")
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", shutdownTimeout).Msg("server: shutting down")

	// The parent context is already cancelled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("server: graceful shutdown incomplete")
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	if hooks != nil {
		shutdownErr = errors.Join(shutdownErr, hooks.Execute(shutdownCtx))
	}

	log.Info().Msg("server: shutdown complete")

	return shutdownErr
}
