package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/api"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/availability"
	"github.com/medibook/telehealth-platform/internal/booking"
	"github.com/medibook/telehealth-platform/internal/config"
	"github.com/medibook/telehealth-platform/internal/db"
	"github.com/medibook/telehealth-platform/internal/ledger"
	"github.com/medibook/telehealth-platform/internal/metrics"
	"github.com/medibook/telehealth-platform/internal/payout"
	redisclient "github.com/medibook/telehealth-platform/internal/redis"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "appointment_cost", cfg.AppointmentCost)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.New(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	m := metrics.New(prometheus.DefaultRegisterer)
	auditor := audit.NewPgRecorder(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	accountRepo := account.NewPgRepository(pgPool)
	slotRepo := availability.NewPgRepository(pgPool)
	bookingRepo := booking.NewPgRepository(pgPool)
	ledgerRepo := ledger.NewPgRepository(pgPool)
	payoutRepo := payout.NewPgRepository(pgPool)

	accountSvc := account.NewService(accountRepo, auditor, logger)
	availabilitySvc := availability.NewService(slotRepo, accountRepo, logger)
	bookingSvc := booking.NewService(bookingRepo, slotRepo, accountRepo, locker, cfg, auditor, logger, m)
	ledgerSvc := ledger.NewService(ledgerRepo, accountRepo, locker, cfg, auditor, logger)
	payoutSvc := payout.NewService(payoutRepo, accountRepo, auditor, logger, m)

	router := api.NewRouter(api.RouterConfig{
		Accounts:     accountSvc,
		Availability: availabilitySvc,
		Booking:      bookingSvc,
		Ledger:       ledgerSvc,
		Payouts:      payoutSvc,
		PgPool:       pgPool,
		Redis:        rdb,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	logger.Info("api-server stopped")
}
