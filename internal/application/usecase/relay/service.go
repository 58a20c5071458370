package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/port"
)

// Hub is the downstream side that must be torn down on shutdown.
type Hub interface {
	Close()
}

type ServiceDeps struct {
	Addr            string
	Handler         http.Handler
	Feed            port.MarketFeed
	Hub             Hub
	ShutdownTimeout time.Duration
}

type Service struct {
	deps ServiceDeps
	addr net.Addr
	up   chan struct{}
}

func NewService(deps ServiceDeps) *Service {
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = 5 * time.Second
	}
	return &Service{deps: deps, up: make(chan struct{})}
}

// Run binds the listener, starts the feed and serves until ctx is done.
// Only a bind failure is returned as an error.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.deps.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.deps.Addr, err)
	}
	s.addr = ln.Addr()
	close(s.up)

	srv := &http.Server{
		Handler:           s.deps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.deps.Feed.Start(ctx)
	log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
		}
	}

	log.Info().Msg("relay shutting down")
	s.deps.Feed.Stop()
	s.deps.Hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.deps.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return nil
}

// Addr returns the bound address once Run has started listening.
func (s *Service) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.up:
		return s.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
