// Package server assembles and runs the todokeeper backend: storage,
// identity services, the REST API and the gRPC health endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/todokeeper/internal/dbx"
	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/auth"
	"github.com/dmitrijs2005/todokeeper/internal/server/avatars"
	"github.com/dmitrijs2005/todokeeper/internal/server/config"
	"github.com/dmitrijs2005/todokeeper/internal/server/federated"
	"github.com/dmitrijs2005/todokeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/todokeeper/internal/server/mail"
	"github.com/dmitrijs2005/todokeeper/internal/server/metrics"
	"github.com/dmitrijs2005/todokeeper/internal/server/passwords"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/todokeeper/internal/server/services"
	"github.com/dmitrijs2005/todokeeper/internal/server/telemetry"

	gs "github.com/dmitrijs2005/todokeeper/internal/server/grpc"
)

const (
	ServiceName     = "todokeeper"
	ShutdownTimeout = 10 * time.Second
)

// Seams for tests.
var logOutput io.Writer = os.Stdout

var (
	openDB         = dbx.Open
	newRepoManager = repomanager.NewPostgresRepositoryManager
	setupTelemetry = telemetry.Setup
)

var newGoogle = func(ctx context.Context, audiences []string, onRefreshError func(error)) (*federated.GoogleVerifier, error) {
	return federated.NewGoogleVerifier(ctx, audiences, onRefreshError)
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	google  *federated.GoogleVerifier
	metrics *metrics.Metrics

	shutdownTracing telemetry.ShutdownFunc

	handler    http.Handler
	grpcServer *gs.Server
}

// NewApp connects to the database, applies migrations and wires every
// service. On error nothing is left open.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger := logging.NewJSON(logOutput, cfg.LogLevel).With("service", ServiceName)
	app := &App{config: cfg, logger: logger, metrics: metrics.New()}

	defer func() {
		if err != nil {
			app.close(ctx)
		}
	}()

	app.shutdownTracing, err = setupTelemetry(ctx, ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	app.db, err = openDB(ctx, cfg.DatabaseDSN, dbx.DefaultPoolOptions)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := newRepoManager()
	if err = rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app.logConfig(ctx)

	var google federated.Verifier
	app.google, err = newGoogle(ctx, cfg.GoogleAudiences(), func(err error) {
		logger.Warn(ctx, "google jwks refresh failed", "error", err)
	})
	if err != nil {
		// Google login stays unavailable; everything else keeps working.
		logger.Error(ctx, "google verifier init failed", "error", err)
		app.google, err = nil, nil
	} else {
		google = app.google
	}

	hasher := passwords.NewBcryptHasher(passwords.DefaultCost)
	issuer := auth.NewIssuer(cfg.SecretKey, cfg.SessionTTL)
	mailer := mail.NewHTTPDispatcher(cfg.MailAPIBaseURL, cfg.MailAPIKey, cfg.MailFromName, nil)
	presigner := avatars.NewPresigner(cfg)

	app.handler = httpapi.NewRouter(httpapi.Options{
		Accounts:       services.NewAccountService(app.db, rm, hasher, issuer, google, app.metrics, logger),
		PasswordResets: services.NewPasswordResetService(app.db, rm, hasher, mailer, cfg.MailFromName, app.metrics, logger),
		Profile:        services.NewProfileService(app.db, rm, hasher, issuer, presigner, app.metrics, logger),
		Todos:          services.NewTodoService(app.db, rm, logger),
		Metrics:        app.metrics,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		Ready:          app.db.PingContext,
	})
	app.grpcServer = gs.NewServer(cfg.GRPCAddr, logger)

	return app, nil
}

// Handler returns the REST API handler.
func (app *App) Handler() http.Handler {
	return app.handler
}

// logConfig reports which optional integrations are configured without
// revealing any secret.
func (app *App) logConfig(ctx context.Context) {
	cfg := app.config
	if cfg.UsesDevSecret() {
		app.logger.Warn(ctx, "JWT_SECRET is not set, using the development secret")
	}
	app.logger.Info(ctx, "configuration",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"custom_secret", !cfg.UsesDevSecret(),
		"google_client_ids_set", len(cfg.GoogleClientIDs) > 0,
		"google_audiences", len(cfg.GoogleAudiences()),
		"mail_configured", cfg.MailAPIBaseURL != "" && cfg.MailAPIKey != "",
		"avatars_enabled", cfg.AvatarsEnabled(),
		"tracing_enabled", cfg.OTLPEndpoint != "",
		"cors_origins", cfg.CORSOrigins,
	)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, srv *http.Server, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

// Run serves HTTP and gRPC until ctx is cancelled or a termination signal
// arrives, then shuts everything down and releases resources.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, srv, cancelFunc)
	}()

	<-ctx.Done()
	app.logger.Info(ctx, "Shutting down...")
	app.grpcServer.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown failed", "error", err)
	}

	wg.Wait()
	app.close(shutdownCtx)
	app.logger.Info(shutdownCtx, "Stopped")
}

func (app *App) close(ctx context.Context) {
	if app.shutdownTracing != nil {
		if err := app.shutdownTracing(ctx); err != nil {
			app.logger.Error(ctx, "tracer shutdown failed", "error", err)
		}
	}
	if app.google != nil {
		app.google.Close()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close failed", "error", err)
		}
	}
}
