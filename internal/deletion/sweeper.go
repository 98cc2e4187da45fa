package deletion

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

// Defaults for the grace period machinery.
const (
	DefaultGracePeriod = 30 * 24 * time.Hour
	DefaultWarningLead = 5 * 24 * time.Hour
)

// Mailer is the slice of the email client the sweeper needs.
type Mailer interface {
	SendDeletionWarning(ctx context.Context, toEmail string, deleteAt time.Time) error
	SendFarewell(ctx context.Context, toEmail string) error
}

// Notifier mirrors the push scheduler's deletion warning hook.
type Notifier interface {
	NotifyDeletionWarning(userID int64, deleteAt time.Time)
}

// Result counts what one sweep did.
type Result struct {
	Warned int `json:"warned"`
	Purged int `json:"purged"`
}

// Sweeper walks pending account deletions: it warns accounts nearing their
// deadline and purges accounts past it. Every pass re-reads the candidate
// sets, so running it twice in a row warns and purges nobody twice.
type Sweeper struct {
	db          *sql.DB
	deletions   *store.DeletionStore
	spaces      *store.SpaceStore
	mailer      Mailer
	notifier    Notifier
	warningLead time.Duration
	logger      *slog.Logger
}

// NewSweeper creates a sweeper. mailer and notifier may be nil when email or
// push is disabled; warnings are then limited to whichever channels exist.
func NewSweeper(db *sql.DB, deletions *store.DeletionStore, spaces *store.SpaceStore, mailer Mailer, notifier Notifier, warningLead time.Duration, logger *slog.Logger) *Sweeper {
	if warningLead <= 0 {
		warningLead = DefaultWarningLead
	}
	return &Sweeper{
		db:          db,
		deletions:   deletions,
		spaces:      spaces,
		mailer:      mailer,
		notifier:    notifier,
		warningLead: warningLead,
		logger:      logger.With("component", "deletion_sweeper"),
	}
}

// Sweep runs one warning pass and one purge pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	warned, err := s.sweepWarnings(ctx)
	res.Warned = warned
	if err != nil {
		return res, err
	}

	purged, err := s.sweepPurges(ctx)
	res.Purged = purged
	return res, err
}

// sweepWarnings notifies accounts whose deadline is inside the warning lead
// and that have not been warned yet. Marking warning_sent_at is what keeps
// repeat runs quiet.
func (s *Sweeper) sweepWarnings(ctx context.Context) (int, error) {
	due, err := s.deletions.ListDueForWarning(s.warningLead)
	if err != nil {
		return 0, fmt.Errorf("list due for warning: %w", err)
	}

	warned := 0
	for _, acct := range due {
		if s.mailer != nil {
			if err := s.mailer.SendDeletionWarning(ctx, acct.Email, acct.PermanentDeletionAt); err != nil {
				// Leave warning_sent_at unset so the next sweep retries.
				s.logger.Error("send deletion warning", "user_id", acct.UserID, "error", err)
				continue
			}
		}
		if s.notifier != nil {
			s.notifier.NotifyDeletionWarning(acct.UserID, acct.PermanentDeletionAt)
		}

		if err := s.deletions.MarkWarningSent(acct.ID); err != nil {
			s.logger.Error("mark warning sent", "user_id", acct.UserID, "error", err)
			continue
		}
		warned++
		s.logger.Info("deletion warning sent", "user_id", acct.UserID, "delete_at", acct.PermanentDeletionAt)
	}
	return warned, nil
}

// sweepPurges permanently removes accounts past their deadline. A purge that
// fails partway logs the collected errors and leaves the deleted_accounts
// row in place so the next sweep retries the remainder; the per-table
// deletes are idempotent.
func (s *Sweeper) sweepPurges(ctx context.Context) (int, error) {
	due, err := s.deletions.ListDueForPurge()
	if err != nil {
		return 0, fmt.Errorf("list due for purge: %w", err)
	}

	purged := 0
	for _, acct := range due {
		if err := s.purgeAccount(acct); err != nil {
			s.logger.Error("purge account", "user_id", acct.UserID, "error", err)
			continue
		}

		if err := s.deletions.Delete(acct.ID); err != nil {
			s.logger.Error("remove deletion record", "user_id", acct.UserID, "error", err)
			continue
		}

		if s.mailer != nil {
			if err := s.mailer.SendFarewell(ctx, acct.Email); err != nil {
				s.logger.Error("send farewell", "user_id", acct.UserID, "error", err)
			}
		}
		purged++
		s.logger.Info("account purged", "user_id", acct.UserID)
	}
	return purged, nil
}

// purgeAccount removes every row the user owns: solely-owned spaces with all
// their content, then the user's rows in shared spaces, then the user row.
// Each step runs regardless of earlier failures and the errors come back
// collected.
func (s *Sweeper) purgeAccount(acct model.DeletedAccount) error {
	var errs error

	owned, err := s.spaces.ListSpacesForUser(acct.UserID)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list spaces: %w", err))
	} else {
		for _, sp := range owned {
			count, err := s.spaces.CountMembers(sp.ID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("count members of space %d: %w", sp.ID, err))
				continue
			}
			if count <= 1 {
				errs = multierr.Append(errs, s.purgeSpace(sp.ID))
			}
		}
	}

	// Rows keyed by user in spaces that survive, and the identity rows.
	userSteps := []struct {
		name  string
		query string
		arg   any
	}{
		{"sessions", `DELETE FROM sessions WHERE user_id = ?`, acct.UserID},
		{"magic links", `DELETE FROM magic_link_tokens WHERE email = ?`, acct.Email},
		{"push subscriptions", `DELETE FROM push_subscriptions WHERE user_id = ?`, acct.UserID},
		{"notification preferences", `DELETE FROM notification_preferences WHERE user_id = ?`, acct.UserID},
		{"notification ledger", `DELETE FROM notifications_sent WHERE user_id = ?`, acct.UserID},
		{"messages", `DELETE FROM messages WHERE user_id = ?`, acct.UserID},
		{"calendar connection conflicts", `DELETE FROM calendar_sync_conflicts WHERE connection_id IN (SELECT id FROM calendar_connections WHERE user_id = ?)`, acct.UserID},
		{"calendar connection logs", `DELETE FROM calendar_sync_logs WHERE connection_id IN (SELECT id FROM calendar_connections WHERE user_id = ?)`, acct.UserID},
		{"calendar connections", `DELETE FROM calendar_connections WHERE user_id = ?`, acct.UserID},
		{"exports", `DELETE FROM space_exports WHERE requested_by = ?`, acct.UserID},
		{"task assignments", `UPDATE tasks SET assigned_to = NULL WHERE assigned_to = ?`, acct.UserID},
		{"event assignments", `UPDATE calendar_events SET assigned_to = NULL WHERE assigned_to = ?`, acct.UserID},
		{"meal assignments", `UPDATE meal_entries SET assigned_to = NULL WHERE assigned_to = ?`, acct.UserID},
		{"completion attribution", `UPDATE task_completions SET completed_by = NULL WHERE completed_by = ?`, acct.UserID},
		{"expense attribution", `UPDATE expenses SET created_by = NULL WHERE created_by = ?`, acct.UserID},
		{"memberships", `DELETE FROM space_members WHERE user_id = ?`, acct.UserID},
		{"user", `DELETE FROM users WHERE id = ?`, acct.UserID},
	}
	for _, step := range userSteps {
		if _, err := s.db.Exec(step.query, step.arg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	return errs
}

// purgeSpace deletes a space and everything in it, child tables first.
func (s *Sweeper) purgeSpace(spaceID int64) error {
	var errs error

	steps := []struct {
		name  string
		query string
	}{
		{"task completions", `DELETE FROM task_completions WHERE task_id IN (SELECT id FROM tasks WHERE space_id = ?)`},
		{"tasks", `DELETE FROM tasks WHERE space_id = ?`},
		{"projects", `DELETE FROM projects WHERE space_id = ?`},
		{"goals", `DELETE FROM goals WHERE space_id = ?`},
		{"expenses", `DELETE FROM expenses WHERE space_id = ?`},
		{"budget categories", `DELETE FROM budget_categories WHERE space_id = ?`},
		{"vendors", `DELETE FROM vendors WHERE space_id = ?`},
		{"meals", `DELETE FROM meal_entries WHERE space_id = ?`},
		{"messages", `DELETE FROM messages WHERE space_id = ?`},
		{"sync conflicts", `DELETE FROM calendar_sync_conflicts WHERE connection_id IN (SELECT id FROM calendar_connections WHERE space_id = ?)`},
		{"sync logs", `DELETE FROM calendar_sync_logs WHERE connection_id IN (SELECT id FROM calendar_connections WHERE space_id = ?)`},
		{"events", `DELETE FROM calendar_events WHERE space_id = ?`},
		{"connections", `DELETE FROM calendar_connections WHERE space_id = ?`},
		{"subscriptions", `DELETE FROM subscriptions WHERE space_id = ?`},
		{"usage counters", `DELETE FROM usage_counters WHERE space_id = ?`},
		{"push subscriptions", `DELETE FROM push_subscriptions WHERE space_id = ?`},
		{"notification preferences", `DELETE FROM notification_preferences WHERE space_id = ?`},
		{"settings", `DELETE FROM settings WHERE space_id = ?`},
		{"exports", `DELETE FROM space_exports WHERE space_id = ?`},
		{"sessions", `DELETE FROM sessions WHERE space_id = ?`},
		{"invite tokens", `DELETE FROM magic_link_tokens WHERE space_id = ?`},
		{"members", `DELETE FROM space_members WHERE space_id = ?`},
		{"space", `DELETE FROM spaces WHERE id = ?`},
	}
	for _, step := range steps {
		if _, err := s.db.Exec(step.query, spaceID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("space %d %s: %w", spaceID, step.name, err))
		}
	}
	return errs
}
