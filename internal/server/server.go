package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/agents-liminals/liminal/internal/config"
)

const (
	shutdownTimeout = 30 * time.Second

	// drainTimeout is how long in-flight requests may run after shutdown
	// starts before their contexts are cancelled. The remainder of
	// shutdownTimeout is left for cancelled handlers to persist.
	drainTimeout = 20 * time.Second
)

// Server is the API's HTTP server plus the hooks that run once it has
// drained. Every request context derives from a server-lifetime context
// that shutdown cancels.
type Server struct {
	httpServer   *http.Server
	onShutdown   []func(context.Context)
	baseCtx      context.Context
	cancelBase   context.CancelFunc
	drainTimeout time.Duration
}

// New creates the HTTP server. The write timeout must leave room for a
// consultation's full retry schedule.
func New(cfg config.ServerConfig, handler http.Handler) *Server {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	return &Server{
		baseCtx:      baseCtx,
		cancelBase:   cancelBase,
		drainTimeout: drainTimeout,
		httpServer: &http.Server{
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
			Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		},
	}
}

// OnShutdown registers fn to run after in-flight requests have drained.
func (s *Server) OnShutdown(fn func(context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully:
// in-flight requests get drainTimeout to finish, after which their
// contexts are cancelled and Shutdown waits for them to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down server", "cause", context.Cause(ctx))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	stopRequests := time.AfterFunc(s.drainTimeout, func() {
		slog.Warn("cancelling in-flight requests", "after", s.drainTimeout)
		s.cancelBase()
	})
	err := s.httpServer.Shutdown(shutdownCtx)
	stopRequests.Stop()
	s.cancelBase()
	for _, fn := range s.onShutdown {
		fn(shutdownCtx)
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
