// Package app wires the server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"liveclass/internal/api"
	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/internal/database"
	"liveclass/internal/hub"
	"liveclass/internal/identity"
	"liveclass/internal/lecture"
	"liveclass/internal/logging"
	"liveclass/internal/presence"
	"liveclass/internal/router"
	"liveclass/internal/websocket"
	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
)

// Application owns every long lived component.
// Construction order: Store → Resolver → Registry → Router → Lectures → Hub → HTTP
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	store      interfaces.Store
	registry   *presence.Registry
	router     *router.Router
	lectures   *lecture.Coordinator
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication validates cfg and builds all components. A nil cfg
// means defaults.
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	resolver := identity.NewStoreResolver(store, logger)
	authenticator := auth.NewAuthenticator(resolver, logger)
	registry := presence.NewRegistry(cfg.Presence.MaxConnectionsPerUser, logger)

	messageRouter := router.NewRouter(
		store,
		resolver,
		registry,
		router.NewRateLimiter(cfg.Messaging.RateLimit, cfg.Messaging.RateWindow),
		router.Config{MaxContentBytes: cfg.Messaging.MaxContentBytes},
		logger,
	)

	lectures := lecture.NewCoordinator(lecture.Config{MaxChatBytes: cfg.Messaging.MaxContentBytes}, logger)

	messageHub := hub.NewHub(registry, messageRouter, lectures, hub.HeartbeatConfig{
		Interval: cfg.Heartbeat.Interval,
		Timeout:  cfg.Heartbeat.Timeout,
	}, logger)

	wsHandler := websocket.NewHandler(authenticator, messageHub, cfg.WebSocket, logger)
	apiServer := api.NewServer(store, registry, lectures, wsHandler, logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With().Str(logging.FieldComponent, "app").Logger(),
		store:      store,
		registry:   registry,
		router:     messageRouter,
		lectures:   lectures,
		hub:        messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// openStore connects the configured backend. The sqlite store is migrated
// before it is returned.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (interfaces.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		store, err := database.NewMongoStore(ctx, database.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			Timeout:  cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mongo store: %w", err)
		}
		return store, nil

	default:
		dbConfig := dbconfig.DefaultConfig()
		dbConfig.DatabasePath = cfg.Path
		dbConfig.WriteTimeout = cfg.Timeout

		manager, err := database.NewManager(dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		if err := manager.Migrate(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		logger.Info().Str("path", cfg.Path).Msg("database migrations applied")
		return manager, nil
	}
}

// Handler is the root HTTP handler: API, health and /ws.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Store returns the persistence backend.
func (app *Application) Store() interfaces.Store {
	return app.store
}

// Addr is the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Run listens on the configured address and serves until ctx is done.
func (app *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, listener)
}

// Serve starts the hub and serves on listener. When ctx is done the
// application shuts down gracefully and Serve returns.
func (app *Application) Serve(ctx context.Context, listener net.Listener) error {
	if err := app.hub.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	app.logger.Info().Str("addr", listener.Addr().String()).Msg("liveclass listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.router.RateLimiter().Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Stop shuts down in reverse dependency order: HTTP → Hub → Store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")

	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
		errs = append(errs, err)
	}

	// Shutdown does not track hijacked websocket connections; the hub
	// closes those.
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Error().Err(err).Msg("message hub shutdown error")
		errs = append(errs, err)
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error().Err(err).Msg("database shutdown error")
		errs = append(errs, err)
	}

	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}
