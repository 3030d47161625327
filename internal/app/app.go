// Package app wires the agent's components into one explicit context object:
// credential store chain, provider client, token lifecycle, session
// coordinator, and the loopback HTTP service. Nothing here is a process-wide
// singleton; commands construct an App and tear it down when done.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/Safariblocks-LTD/codelock-agent/internal/agent"
	"github.com/Safariblocks-LTD/codelock-agent/internal/authflow"
	"github.com/Safariblocks-LTD/codelock-agent/internal/observability"
	"github.com/Safariblocks-LTD/codelock-agent/internal/provider"
	"github.com/Safariblocks-LTD/codelock-agent/internal/tokens"
)

// App orchestrates the lifecycle of the agent service and its collaborators.
type App struct {
	cfg         *Config
	server      *agent.Server
	coordinator *authflow.Coordinator
	lifecycle   *tokens.Lifecycle
}

// New creates a new App instance. No I/O is performed; credential reads are
// deferred to first use.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	providerClient, err := provider.New(provider.Config{
		AuthURL:     cfg.Provider.AuthURL,
		TokenURL:    cfg.Provider.TokenURL,
		RevokeURL:   cfg.Provider.RevokeURL,
		ClientID:    cfg.Provider.ClientID,
		RedirectURI: cfg.Provider.RedirectURI,
		Scopes:      cfg.Provider.Scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	lifecycle, err := tokens.NewLifecycle(store, providerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create token lifecycle: %w", err)
	}

	dispatcher := authflow.NewDispatcher()

	coordinator, err := authflow.NewCoordinator(authflow.CoordinatorConfig{
		Provider:     providerClient,
		Lifecycle:    lifecycle,
		Dispatcher:   dispatcher,
		LoginTimeout: cfg.Provider.LoginTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session coordinator: %w", err)
	}

	server, err := agent.New(coordinator, lifecycle, dispatcher)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent service: %w", err)
	}

	return &App{
		cfg:         cfg,
		server:      server,
		coordinator: coordinator,
		lifecycle:   lifecycle,
	}, nil
}

// Lifecycle returns the token lifecycle for direct (serverless) operations.
func (a *App) Lifecycle() *tokens.Lifecycle {
	return a.lifecycle
}

// Logout revokes best-effort and clears credentials from both backends.
func (a *App) Logout(ctx context.Context) error {
	return a.coordinator.Logout(ctx)
}

// Start starts the agent service and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.address()
	shutdownFuncs := []func(context.Context) error{observability.Shutdown}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting agent service", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("agent service startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "agent service runtime error", "error", err)
				return fmt.Errorf("agent service: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// Login runs a single interactive login attempt, serving the callback
// endpoint for its duration. The service is torn down before returning.
func (a *App) Login(ctx context.Context) (*authflow.Result, error) {
	address := a.address()
	serverErrCh, err := a.server.Start(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback service: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "callback service shutdown failed", "error", err)
		}
	}()

	type outcome struct {
		result *authflow.Result
		err    error
	}
	outcomeCh := make(chan outcome, 1)
	go func() {
		result, err := a.coordinator.Login(ctx)
		outcomeCh <- outcome{result: result, err: err}
	}()

	select {
	case o := <-outcomeCh:
		return o.result, o.err
	case err := <-serverErrCh:
		// The attempt cannot resolve without its callback endpoint.
		a.coordinator.Cancel()
		<-outcomeCh
		return nil, fmt.Errorf("callback service failed: %w", err)
	}
}

func (a *App) address() string {
	return a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
}
