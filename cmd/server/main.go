// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"instrument-link/internal/config"
	"instrument-link/internal/event"
	"instrument-link/internal/link"
	"instrument-link/internal/routes"
	"instrument-link/internal/service"
	"instrument-link/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	loader *config.Loader
	logger *zap.Logger
	server *http.Server

	sink        *event.Sink
	linkManager *link.Manager
	linkService *service.LinkService
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	loader := config.NewLoader(os.Getenv("INSTRUMENT_LINK_CONFIG"))

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "instrument-link")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.Link.Endpoint())

	app := &Application{
		config: cfg,
		loader: loader,
		logger: logger,
	}

	app.initializeLink()

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeLink wires the event sink, connection manager and service
func (app *Application) initializeLink() {
	app.sink = event.NewSink(app.logger)
	app.linkManager = link.NewManager(&app.config.Link, app.sink, app.logger)
	app.linkService = service.NewLinkService(app.linkManager, app.sink, nil, app.logger)

	app.logger.Info("Link initialized",
		zap.String("link_kind", string(app.config.Link.Kind)),
		zap.String("endpoint", app.config.Link.Endpoint()),
	)
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.linkService,
		app.sink,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// watchConfig hot-reloads the link section on config file changes
func (app *Application) watchConfig() {
	app.loader.Watch(
		func(cfg *config.Config) {
			app.logger.Info("Configuration file changed, applying link settings",
				zap.String("endpoint", cfg.Link.Endpoint()),
			)
			app.linkManager.UpdateConfig(&cfg.Link)
		},
		func(err error) {
			app.logger.Error("Ignoring invalid configuration change", zap.Error(err))
		},
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "instrument-link")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Stop waits for the full connection lifetime to terminate.
	app.linkService.Stop()
	app.logger.Info("Instrument link stopped")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}

	app.logger.Info("Application shutdown completed")
}

func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Bring the instrument link up and watch for config changes.
	app.linkService.Start(context.Background())
	app.watchConfig()

	app.waitForShutdown()

	return nil
}
