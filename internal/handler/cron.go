package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/calebmorrow/hearthside/internal/jobs"
)

// CronHandler exposes the background jobs as endpoints for crontab-driven
// deployments. The cron secret middleware guards all of them. Jobs whose
// subsystem isn't configured report skipped instead of failing, so a
// blanket crontab works on any deployment.
type CronHandler struct {
	runner *jobs.Runner
	logger *slog.Logger
}

func NewCronHandler(runner *jobs.Runner, logger *slog.Logger) *CronHandler {
	return &CronHandler{runner: runner, logger: logger}
}

func writeSkipped(w http.ResponseWriter, job string) {
	writeData(w, http.StatusOK, map[string]any{"job": job, "skipped": true})
}

func (h *CronHandler) DeletionSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.DeletionSweep(r.Context())
	if err != nil {
		if errors.Is(err, jobs.ErrDisabled) {
			writeSkipped(w, "deletion_sweep")
			return
		}
		h.logger.Error("cron deletion sweep", "error", err)
		writeError(w, http.StatusInternalServerError, "deletion sweep failed")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"job":    "deletion_sweep",
		"warned": result.Warned,
		"purged": result.Purged,
	})
}

func (h *CronHandler) TokenCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.TokenCleanup(r.Context())
	if err != nil {
		// Partial failures still pruned what they could; the counts go
		// back with the error status.
		h.logger.Error("cron token cleanup", "error", err)
		writeError(w, http.StatusInternalServerError, "token cleanup completed with errors")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"job":     "token_cleanup",
		"cleaned": result,
	})
}

func (h *CronHandler) CalendarSync(w http.ResponseWriter, r *http.Request) {
	synced, err := h.runner.CalendarSync(r.Context())
	if err != nil {
		if errors.Is(err, jobs.ErrDisabled) {
			writeSkipped(w, "calendar_sync")
			return
		}
		h.logger.Error("cron calendar sync", "error", err)
		writeError(w, http.StatusInternalServerError, "calendar sync failed")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"job":    "calendar_sync",
		"synced": synced,
	})
}

func (h *CronHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Reminders(r.Context()); err != nil {
		if errors.Is(err, jobs.ErrDisabled) {
			writeSkipped(w, "reminders")
			return
		}
		h.logger.Error("cron reminders", "error", err)
		writeError(w, http.StatusInternalServerError, "reminder pass failed")
		return
	}

	writeData(w, http.StatusOK, map[string]any{"job": "reminders"})
}
