package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/audit"
	"github.com/medibook/telehealth-platform/internal/config"
	"github.com/medibook/telehealth-platform/internal/db"
	"github.com/medibook/telehealth-platform/internal/ledger"
	redisclient "github.com/medibook/telehealth-platform/internal/redis"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

// The allocation worker tops up subscribed accounts with their plan's monthly
// credits. Grants are idempotent per account per calendar month, so running
// the worker on a short interval (or several workers at once) is safe.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).WithComponent("allocation-worker")
	logger.Info("allocation-worker starting up", "interval", cfg.WorkerInterval.String())

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

	accountRepo := account.NewPgRepository(pgPool)
	ledgerRepo := ledger.NewPgRepository(pgPool)
	auditor := audit.NewPgRecorder(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	ledgerSvc := ledger.NewService(ledgerRepo, accountRepo, locker, cfg, auditor, logger)

	runOnce(rootCtx, logger, accountRepo, ledgerSvc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("allocation-worker stopped")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, accountRepo, ledgerSvc)
		}
	}
}

func runOnce(ctx context.Context, logger *logging.Logger, accounts account.Repository, svc *ledger.Service) {
	accts, err := accounts.ListSubscribed(ctx)
	if err != nil {
		logger.Error("listing subscribed accounts failed", "error", err)
		return
	}

	var granted, skipped, failed int
	for _, a := range accts {
		if a.PlanID == nil {
			continue
		}

		_, ok, err := svc.AllocateMonthly(ctx, a.ID, *a.PlanID)
		switch {
		case errors.Is(err, ledger.ErrUnknownPlan):
			logger.Warn("account subscribed to unknown plan", "account_id", a.ID, "plan_id", *a.PlanID)
			failed++
		case errors.Is(err, ledger.ErrAllocationInProgress):
			// Another allocator holds the account; the next pass picks it up.
			skipped++
		case err != nil:
			logger.Error("monthly allocation failed", "account_id", a.ID, "plan_id", *a.PlanID, "error", err)
			failed++
		case ok:
			granted++
		default:
			skipped++
		}
	}

	logger.Info("allocation pass complete", "subscribed", len(accts), "granted", granted, "already_granted", skipped, "failed", failed)
}
