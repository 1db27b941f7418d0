// The fluxo-scheduler binary hosts the periodic billing workers. It shares
// the database, cache, and lifecycle code with the API server but runs as a
// separate process so worker load never competes with request serving.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maybeizen/fluxo-sub000/pkg/accounts"
	"github.com/maybeizen/fluxo-sub000/pkg/async"
	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/config"
	"github.com/maybeizen/fluxo-sub000/pkg/notify"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/scheduler"
	"github.com/maybeizen/fluxo-sub000/pkg/storage"
	"github.com/maybeizen/fluxo-sub000/pkg/storage/rediscache"
	"github.com/maybeizen/fluxo-sub000/pkg/workers"
)

var runOnce = flag.String("run-once", "", "Run a single worker by name and exit (for testing and backfills)")

func main() {
	flag.Parse()

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
	defer cache.Close()

	couponLedger := billing.NewCouponRedemptionLedger(db, cache)
	invoiceLifecycle := billing.NewInvoiceLifecycle(db, cache, couponLedger, logger)
	serviceLifecycle := billing.NewServiceLifecycle(db, cache, logger)
	accountService := accounts.NewService(db)

	var sender notify.Sender
	if cfg.Billing.SMTPEnabled {
		sender = notify.NewSMTPSender(cfg.SMTP)
	} else {
		sender = notify.NewLogSender(logger)
	}
	notifier := notify.NewNotifier(sender, logger)

	fleet := workers.New(invoiceLifecycle, serviceLifecycle, couponLedger,
		accountService, notifier, logger, metrics, cfg.Billing.Currency)

	sched := scheduler.New(logger, metrics)
	if err := fleet.RegisterAll(sched); err != nil {
		logger.WithError(err).Error("failed to register workers")
		os.Exit(1)
	}

	if *runOnce != "" {
		if err := sched.RunOnce(ctx, *runOnce); err != nil {
			logger.WithError(err).WithField("worker", *runOnce).Error("run-once failed")
			os.Exit(1)
		}
		return
	}

	// Health and metrics for probes
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

	sched.Start()
	logger.WithField("workers", len(sched.Names())).Info("scheduler started")

	// @every schedules first fire a full interval after start, so sweep the
	// time-critical jobs immediately to catch up after a restart
	async.SafeGo(ctx, logger, 5*time.Minute, "startup catch-up sweep", func(ctx context.Context) error {
		if err := sched.RunOnce(ctx, "invoice-expiry"); err != nil {
			return err
		}
		return sched.RunOnce(ctx, "service-suspension")
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("scheduler drain timed out")
		os.Exit(1)
	}

	logger.Info("scheduler stopped")
}
