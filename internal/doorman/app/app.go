package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	httpapi "github.com/veldtlabs/doorman/internal/doorman/http"
	"github.com/veldtlabs/doorman/internal/doorman/service"
	"github.com/veldtlabs/doorman/internal/doorman/session"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/internal/doorman/store/drivers/sqlite"
	"github.com/veldtlabs/doorman/internal/doorman/ws"
	"github.com/veldtlabs/doorman/pkg/cryptox"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the doorman service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	webAuthn *webauthn.WebAuthn
	sessions *session.Manager
	registry *ws.Registry

	registryCancel context.CancelFunc

	// Services
	authService         *service.AuthService
	userService         *service.UserService
	inviteService       *service.InviteService
	adminService        *service.AdminService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "doorman",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.Issuer,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize webauthn: %w", err)
	}
	app.webAuthn = wa

	app.sessions = session.NewManager()
	app.registry = ws.NewRegistry()

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	registryCtx, cancel := context.WithCancel(context.Background())
	app.registryCancel = cancel
	go app.registry.Run(registryCtx)

	app.housekeepingService.Start()

	app.logger.Info("doorman starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down doorman...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutting down the server first stops new connections; cancelling the
	// registry then force-closes every remaining push socket.
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.registryCancel != nil {
		app.registryCancel()
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("doorman stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	// modernc's driver reads pragmas as _pragma=name(value) pairs; the
	// mattn-style _busy_timeout/_journal_mode keys are silently ignored.
	host := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.authService = &service.AuthService{
		Store:    app.db,
		WebAuthn: app.webAuthn,
		Registry: app.registry,
	}
	app.userService = &service.UserService{
		Store:    app.db,
		WebAuthn: app.webAuthn,
		Registry: app.registry,
		Issuer:   app.cfg.Issuer,
	}
	app.inviteService = &service.InviteService{
		Store:    app.db,
		WebAuthn: app.webAuthn,
		Auth:     app.authService,
	}
	app.adminService = &service.AdminService{
		Store:    app.db,
		Registry: app.registry,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.SessionRetention,
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		BuildVersion,
		app.db,
		app.sessions,
		app.registry,
		app.cfg.SecureCookies,
		app.logger,
	)

	router.AuthService = app.authService
	router.UserService = app.userService
	router.InviteService = app.inviteService
	router.AdminService = app.adminService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
