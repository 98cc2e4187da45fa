package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Built-in cron plan. Deployments that prefer an external crontab leave the
// scheduler off and hit the /cron endpoints instead; both paths run the same
// Runner methods.
const (
	deletionSweepSpec = "0 0 3 * * *"    // daily at 03:00 UTC
	tokenCleanupSpec  = "0 0 * * * *"    // hourly
	calendarSyncSpec  = "0 */15 * * * *" // every 15 minutes
)

// Scheduler drives the Runner on a fixed cron plan.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *slog.Logger
}

func NewScheduler(runner *Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		runner: runner,
		logger: logger.With("component", "job_scheduler"),
	}
}

// Start registers the jobs and starts the cron loop in its own goroutine.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(deletionSweepSpec, s.wrap("deletion_sweep", func(ctx context.Context) error {
		_, err := s.runner.DeletionSweep(ctx)
		return err
	})); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(tokenCleanupSpec, s.wrap("token_cleanup", func(ctx context.Context) error {
		_, err := s.runner.TokenCleanup(ctx)
		return err
	})); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(calendarSyncSpec, s.wrap("calendar_sync", func(ctx context.Context) error {
		_, err := s.runner.CalendarSync(ctx)
		return err
	})); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("job scheduler started")
	return nil
}

// Stop halts the cron loop and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("job scheduler stopped")
}

// wrap adapts a job to a cron func, logging failures instead of letting them
// vanish. ErrDisabled is quiet: a deployment without calendar credentials
// should not log an error four times an hour.
func (s *Scheduler) wrap(name string, job func(context.Context) error) func() {
	return func() {
		err := job(context.Background())
		if err != nil && err != ErrDisabled {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
		}
	}
}
