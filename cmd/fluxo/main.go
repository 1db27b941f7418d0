package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/maybeizen/fluxo-sub000/pkg/accounts"
	"github.com/maybeizen/fluxo-sub000/pkg/api"
	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/config"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/products"
	"github.com/maybeizen/fluxo-sub000/pkg/storage"
	"github.com/maybeizen/fluxo-sub000/pkg/storage/rediscache"
	"github.com/maybeizen/fluxo-sub000/pkg/tickets"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx := context.Background()

	db, err := storage.Connect(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	cache, err := rediscache.New(cfg.Storage, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}

	couponLedger := billing.NewCouponRedemptionLedger(db, cache)
	invoiceLifecycle := billing.NewInvoiceLifecycle(db, cache, couponLedger, logger)
	serviceLifecycle := billing.NewServiceLifecycle(db, cache, logger)
	accountService := accounts.NewService(db)
	productCatalog := products.NewService(db)
	ticketDesk := tickets.NewService(db)

	server := api.NewServer(invoiceLifecycle, serviceLifecycle, couponLedger,
		accountService, productCatalog, ticketDesk, logger, metrics, api.ServerOptions{
			RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthChecker := observability.NewHealthChecker(db, cache.Client())
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	go func() {
		logger.WithField("port", cfg.Server.HealthPort).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.CollectDBStats(db)
		}
	}()

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return cache.Close()
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}
