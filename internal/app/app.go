package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/chrko/mb-exporter/internal/exporter"
	"github.com/chrko/mb-exporter/internal/server"
	"github.com/chrko/mb-exporter/internal/tokensource"
	"github.com/chrko/mb-exporter/internal/vehicledata"
)

// App orchestrates the lifecycle of the exporter server and related services.
type App struct {
	cfg    *Config
	server *server.Server
}

// New creates a new App instance. The credential store is opened and any
// persisted credential is loaded before New returns.
func New(ctx context.Context, cfg *Config, version string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	manager, err := tokensource.New(ctx, tokensource.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       tokensource.DefaultScopes,
		Endpoint:     tokensource.Endpoint,
		Timeout:      cfg.OAuth.Timeout,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	authorizer, err := tokensource.NewAuthorizer(tokensource.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       tokensource.DefaultScopes,
		Endpoint:     tokensource.Endpoint,
		Timeout:      cfg.OAuth.Timeout,
	}, manager)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorizer: %w", err)
	}

	var clientOpts []vehicledata.ClientOption
	if cfg.Vehicle.BaseURL != "" {
		clientOpts = append(clientOpts, vehicledata.WithBaseURL(cfg.Vehicle.BaseURL))
	}
	client, err := vehicledata.NewClient(manager, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vehicle data client: %w", err)
	}

	collector, err := exporter.New(manager, client, cfg.Vehicle.VIN)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector: %w", err)
	}

	srv, err := server.New(manager, authorizer, collector, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:    cfg,
		server: srv,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting exporter server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
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
