// Package main is the entry point for the companion API server.
//
// It loads configuration, wires the store (Postgres or in-memory), the
// vendor clients, the entitlement services and the HTTP chassis, then serves
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"companion/internal/api/handlers"
	"companion/internal/auth"
	"companion/internal/catalog"
	"companion/internal/config"
	"companion/internal/core"
	"companion/internal/db"
	"companion/internal/entitlement"
	"companion/internal/external"
	"companion/internal/memstore"
	"companion/internal/reconcile"
	"companion/internal/telemetry"
	"companion/internal/types"
	"companion/internal/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("companion API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return runHTTPServer(srv, cfg, logger)
}

// entitlementStore is what the handlers and the reconciler need from the
// subject store.
type entitlementStore interface {
	handlers.SubjectStore
	reconcile.Store
	Ping(ctx context.Context) error
}

// stores holds the persistence chosen by STORE_DRIVER.
type stores struct {
	subjects entitlementStore
	counter  usage.SendCounter
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory store; state is lost on restart")
		return &stores{
			subjects: memstore.New(types.RealClock{}),
			counter:  usage.NewMemoryCounter(),
			close:    func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &stores{
		subjects: db.NewStore(pool),
		counter:  db.NewUsageRepository(pool, pool),
		close:    pool.Close,
	}, nil
}

func newRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.Recorder, error) {
	if !cfg.Observability.EnableMetrics || cfg.Environment == "local" {
		return telemetry.Nop{}, nil
	}
	client, err := telemetry.NewCloudWatchClient(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("creating cloudwatch client: %w", err)
	}
	return telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, types.NewSlogLogger(logger)), nil
}

// buildServer wires every dependency into a mounted core.Server. The returned
// cleanup releases the store.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, func(), error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*core.Server, func(), error) {
		st.close()
		return nil, nil, err
	}

	metrics, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	clients, err := external.NewClientRegistry(cfg, logger,
		external.WithClientOptions(external.WithFailureHook(metrics.RecordExternalFailure)))
	if err != nil {
		return fail(fmt.Errorf("creating external clients: %w", err))
	}

	personas := catalog.NewStaticRegistry()
	prices, err := cfg.Billing.Prices()
	if err != nil {
		return fail(fmt.Errorf("price table: %w", err))
	}
	if err := catalog.CheckPrices(personas, func(id string) bool {
		_, ok := prices.OneTimePrice(id)
		return ok
	}); err != nil {
		if cfg.Environment != "local" {
			return fail(err)
		}
		logger.Warn("price table incomplete", "error", err)
	}

	authn, err := auth.NewAuthenticator(auth.Config{
		Secret:       cfg.Auth.BaaSJWTSecret.Unmask(),
		Issuer:       cfg.Auth.BaaSIssuer,
		Audience:     cfg.Auth.BaaSAudience,
		AllowDevices: cfg.Auth.AllowDevices,
	}, types.RealClock{}, logger)
	if err != nil {
		return fail(fmt.Errorf("creating authenticator: %w", err))
	}

	clock := types.RealClock{}
	resolver := entitlement.NewResolver(st.counter, cfg.Usage.DailyMessageLimit, clock, logger)
	meter := entitlement.NewMeter(st.counter, resolver, logger)
	reconciler := reconcile.NewReconciler(st.subjects, logger,
		reconcile.WithSubscriptionLookup(clients.Billing),
		reconcile.WithOutcomeRecorder(metrics),
		reconcile.WithFallbackPeriod(cfg.Billing.SubscriptionFallback),
		reconcile.WithClock(clock),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("creating server: %w", err))
	}
	srv.Authenticator = authn
	srv.RateLimitStore = core.NewMemoryRateLimitStore(nil)
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: st.subjects.Ping})

	personaHandler := handlers.NewPersonaHandler(personas, st.subjects, clock, logger)
	usageHandler := handlers.NewUsageHandler(personas, st.subjects, resolver, logger)
	chatHandler := handlers.NewChatHandler(personas, st.subjects, resolver, meter, clients.Chat, metrics, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(clients.Billing, personas, st.subjects, cfg, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(clients.StripeVerifier, reconciler, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		personaHandler.RegisterRoutes,
		usageHandler.RegisterRoutes,
		chatHandler.RegisterRoutes,
		func(r chi.Router) { billingHandler.RegisterRoutes(r, srv.RequireAccount) },
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, st.close, nil
}

// runHTTPServer serves until a shutdown signal, then drains for 10 seconds.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
