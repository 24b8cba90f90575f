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

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	httpapi "github.com/deadbolt-id/deadbolt/internal/identity/http"
	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/internal/identity/store/drivers/sqlite"
	"github.com/deadbolt-id/deadbolt/pkg/cryptox"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the identity service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	userService     *service.UserService
	sessionService  *service.SessionService
	passwordService *service.PasswordService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "deadbolt",
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

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("identity service starting", "port", app.cfg.Port, "version", BuildVersion)

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
	app.logger.Info("shutting down identity service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
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
	app.passwordService = &service.PasswordService{
		Store:         app.db,
		ResetTokenTTL: app.cfg.ResetTokenTTL,
	}

	app.sessionService = &service.SessionService{
		Store:      app.db,
		DefaultTTL: app.cfg.SessionTTL,
	}

	codeCfg := service.CodeTwoFactorConfig{
		TTL:         app.cfg.TwoFactorTTL,
		MaxAttempts: app.cfg.TwoFactorMaxAttempts,
		Format:      service.CodeFormat(app.cfg.CodeFormat),
	}

	app.userService = &service.UserService{
		Store:     app.db,
		Sessions:  app.sessionService,
		Passwords: app.passwordService,
		TwoFactor: service.TwoFactorSet{
			domain.TwoFactorEmail: service.NewEmailTwoFactor(app.db, codeCfg, nil),
			domain.TwoFactorSMS:   service.NewSMSTwoFactor(app.db, codeCfg, nil),
			domain.TwoFactorTOTP: service.NewTotpTwoFactor(app.db, service.TotpConfig{
				Issuer:      app.cfg.TOTPIssuer,
				Skew:        app.cfg.TOTPSkew,
				TTL:         app.cfg.TwoFactorTTL,
				MaxAttempts: app.cfg.TwoFactorMaxAttempts,
			}, nil),
		},
		ConfirmTokenTTL: app.cfg.ConfirmTokenTTL,
		RequireApp:      app.cfg.RequireApp,
	}
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.UserService = app.userService
	router.SessionService = app.sessionService
	router.PasswordService = app.passwordService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
