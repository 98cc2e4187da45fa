package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/calebmorrow/hearthside/internal/calendar"
	"github.com/calebmorrow/hearthside/internal/deletion"
	"github.com/calebmorrow/hearthside/internal/export"
	"github.com/calebmorrow/hearthside/internal/middleware"
	"github.com/calebmorrow/hearthside/internal/push"
	"github.com/calebmorrow/hearthside/internal/store"
)

// ErrDisabled is returned when a job's subsystem is not configured.
var ErrDisabled = errors.New("job subsystem disabled")

// Retention windows for the cleanup job.
const (
	sentLedgerRetention  = 7 * 24 * time.Hour
	syncLogRetention     = 90 * 24 * time.Hour
	usageRetentionMonths = 12
)

// CleanupResult counts what one cleanup pass removed.
type CleanupResult struct {
	Tokens      int64 `json:"tokens"`
	Sessions    int64 `json:"sessions"`
	RateWindows int64 `json:"rate_windows"`
	SyncLogs    int64 `json:"sync_logs"`
	Usage       int64 `json:"usage_periods"`
}

// Runner executes the recurring maintenance jobs. The cron endpoints and the
// in-process scheduler both go through it, so a job behaves the same no
// matter what triggered it.
type Runner struct {
	sweeper   *deletion.Sweeper
	engine    *calendar.Engine
	reminders *push.Scheduler
	limiter   *middleware.RateLimiter
	sessions  *store.SessionStore
	links     *store.MagicLinkStore
	pushStore *store.PushStore
	syncLogs  *store.SyncLogStore
	usage     *store.UsageStore
	exporter  *export.Manager
	logger    *slog.Logger
}

// Config bundles the Runner's collaborators. Sweeper, Engine, Reminders, and
// Exporter may be nil when their subsystem is disabled; the matching jobs
// then return ErrDisabled or skip the step.
type Config struct {
	Sweeper   *deletion.Sweeper
	Engine    *calendar.Engine
	Reminders *push.Scheduler
	Limiter   *middleware.RateLimiter
	Sessions  *store.SessionStore
	Links     *store.MagicLinkStore
	Push      *store.PushStore
	SyncLogs  *store.SyncLogStore
	Usage     *store.UsageStore
	Exporter  *export.Manager
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		sweeper:   cfg.Sweeper,
		engine:    cfg.Engine,
		reminders: cfg.Reminders,
		limiter:   cfg.Limiter,
		sessions:  cfg.Sessions,
		links:     cfg.Links,
		pushStore: cfg.Push,
		syncLogs:  cfg.SyncLogs,
		usage:     cfg.Usage,
		exporter:  cfg.Exporter,
		logger:    logger.With("component", "jobs"),
	}
}

// DeletionSweep warns accounts near their deletion deadline and purges
// accounts past it.
func (r *Runner) DeletionSweep(ctx context.Context) (deletion.Result, error) {
	if r.sweeper == nil {
		return deletion.Result{}, ErrDisabled
	}
	res, err := r.sweeper.Sweep(ctx)
	if err != nil {
		return res, err
	}
	r.logger.Info("deletion sweep", "warned", res.Warned, "purged", res.Purged)
	return res, nil
}

// TokenCleanup prunes expired auth tokens and sessions plus the stale
// operational rows that accrete over time: rate limiter windows, the
// notification dedupe ledger, old sync logs and usage counters, and exports
// past retention. Every step runs; failures come back collected.
func (r *Runner) TokenCleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	var errs error
	now := time.Now().UTC()

	if r.links != nil {
		n, err := r.links.DeleteExpired()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("magic links: %w", err))
		}
		res.Tokens = n
	}
	if r.sessions != nil {
		n, err := r.sessions.DeleteExpired()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sessions: %w", err))
		}
		res.Sessions = n
	}
	if r.limiter != nil {
		res.RateWindows = int64(r.limiter.Cleanup())
	}
	if r.pushStore != nil {
		if err := r.pushStore.CleanupSent(now.Add(-sentLedgerRetention)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notification ledger: %w", err))
		}
	}
	if r.syncLogs != nil {
		n, err := r.syncLogs.DeleteOlderThan(now.Add(-syncLogRetention))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync logs: %w", err))
		}
		res.SyncLogs = n
	}
	if r.usage != nil {
		cutoff := store.CurrentPeriod(now.AddDate(0, -usageRetentionMonths, 0))
		n, err := r.usage.DeleteOlderThan(cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("usage counters: %w", err))
		}
		res.Usage = n
	}
	if r.exporter != nil {
		if err := r.exporter.Cleanup(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("exports: %w", err))
		}
	}

	if errs == nil {
		r.logger.Info("token cleanup",
			"tokens", res.Tokens,
			"sessions", res.Sessions,
			"sync_logs", res.SyncLogs,
			"usage_periods", res.Usage)
	}
	return res, errs
}

// CalendarSync runs a sync pass over every active connection and returns how
// many synced cleanly.
func (r *Runner) CalendarSync(ctx context.Context) (int, error) {
	if r.engine == nil {
		return 0, ErrDisabled
	}
	synced, err := r.engine.SyncAll(ctx)
	if err != nil {
		return synced, err
	}
	r.logger.Info("calendar sync", "connections", synced)
	return synced, nil
}

// Reminders runs one push reminder pass.
func (r *Runner) Reminders(ctx context.Context) error {
	if r.reminders == nil {
		return ErrDisabled
	}
	r.reminders.RunPass(time.Now().UTC())
	return nil
}
