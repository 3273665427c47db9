package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"courier/pkg/config"
	"courier/pkg/logger"
	"courier/pkg/store"
)

// Start launches the purge scheduler if retention is enabled and returns
// a cancel func. The job removes soft-deleted messages and long-closed
// threads older than the configured age.
func Start(ctx context.Context, cfg config.Config, st *store.Store) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}
	maxAge := ret.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age_days", maxAge)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, cronExpr, maxAge)
	return cancel, nil
}

// RunOnce purges immediately with the given age bound. Exposed so tests
// and operators can trigger a run without waiting for the cron tick.
func RunOnce(st *store.Store, maxAgeDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	return st.PurgeDeleted(cutoff)
}

// runScheduler sleeps until the next cron tick and runs the purge. gronx
// computes ticks from full cron syntax.
func runScheduler(ctx context.Context, st *store.Store, cronExpr string, maxAgeDays int) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			n, err := RunOnce(st, maxAgeDays)
			if err != nil {
				logger.Error("retention_run_error", "error", err)
				continue
			}
			logger.Info("retention_run_complete", "purged", n)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
