// Package agent exposes the authentication operations to the editor
// extension over a loopback HTTP service. The OS handler for the agent's
// private URI scheme forwards redirect deliveries to the callback endpoint.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Safariblocks-LTD/codelock-agent/internal/authflow"
	"github.com/Safariblocks-LTD/codelock-agent/internal/observability/middleware"
	"github.com/Safariblocks-LTD/codelock-agent/internal/tokens"
)

// Server is the agent's loopback HTTP service.
type Server struct {
	coordinator *authflow.Coordinator
	lifecycle   *tokens.Lifecycle
	dispatcher  *authflow.Dispatcher

	handler http.Handler
	server  *http.Server

	// baseCtx outlives individual requests; login attempts started over HTTP
	// are bound to it so they survive the request that started them.
	baseCtx context.Context
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates the agent service.
func New(coordinator *authflow.Coordinator, lifecycle *tokens.Lifecycle, dispatcher *authflow.Dispatcher) (*Server, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("missing session coordinator")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("missing token lifecycle")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("missing redirect dispatcher")
	}

	s := &Server{
		coordinator: coordinator,
		lifecycle:   lifecycle,
		dispatcher:  dispatcher,
		baseCtx:     context.Background(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/status", s.handleStatus)
	mux.HandleFunc("GET /auth/token", s.handleToken)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/login/cancel", s.handleLoginCancel)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	s.handler = middleware.Apply(mux,
		middleware.Logging(slog.Default()),
		middleware.Recovery,
	)

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.baseCtx = ctx
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
