package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/task"
)

// Settings keys consulted per space, with their defaults.
const (
	settingReminderLead = "reminder_lead_minutes"
	settingDigestHour   = "task_digest_hour"
	defaultReminderLead = 30
	defaultDigestHour   = 8
	maxNotificationBody = 120
)

// Scheduler periodically checks for notifications to send: event reminders
// as events enter their lead window, and a daily task digest at each space's
// configured hour. Sends are deduplicated per user through the sent ledger,
// so a pass can run any number of times without double-notifying.
type Scheduler struct {
	mu       sync.RWMutex
	service  *Service
	push     *store.PushStore
	events   *store.EventStore
	tasks    *store.TaskStore
	settings *store.SettingsStore
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a notification scheduler.
func NewScheduler(svc *Service, pushStore *store.PushStore, eventStore *store.EventStore, taskStore *store.TaskStore, settingsStore *store.SettingsStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  svc,
		push:     pushStore,
		events:   eventStore,
		tasks:    taskStore,
		settings: settingsStore,
		logger:   logger.With("component", "push_scheduler"),
		interval: 60 * time.Second,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunPass(time.Now().UTC())
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunPass executes one reminder pass over every space with at least one push
// subscription. The cron endpoint calls this directly.
func (s *Scheduler) RunPass(now time.Time) {
	spaceIDs, err := s.push.ListSpaceIDs()
	if err != nil {
		s.logger.Error("list spaces", "error", err)
		return
	}

	for _, spaceID := range spaceIDs {
		s.checkEventReminders(spaceID, now)
		s.checkTaskDigest(spaceID, now)
	}
}

// checkEventReminders notifies subscribers about events starting within the
// space's reminder lead window. Assigned events only notify the assignee.
func (s *Scheduler) checkEventReminders(spaceID int64, now time.Time) {
	lead, err := s.settings.GetInt(spaceID, settingReminderLead, defaultReminderLead)
	if err != nil {
		s.logger.Error("read reminder lead", "space_id", spaceID, "error", err)
		lead = defaultReminderLead
	}
	if lead <= 0 {
		return
	}

	windowEnd := now.Add(time.Duration(lead) * time.Minute)
	events, err := s.events.ListStartingBetween(spaceID, now, windowEnd)
	if err != nil {
		s.logger.Error("list upcoming events", "space_id", spaceID, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	subs, err := s.push.ListBySpace(spaceID)
	if err != nil {
		s.logger.Error("list subscriptions", "space_id", spaceID, "error", err)
		return
	}

	for _, event := range events {
		refID := fmt.Sprintf("event-%d", event.ID)
		minutes := int(event.StartTime.Sub(now).Minutes())
		if minutes < 1 {
			minutes = 1
		}

		payload := Payload{
			Title: "Upcoming Event",
			Body:  fmt.Sprintf("%s starts in %d minutes", event.Title, minutes),
			URL:   "/calendar",
			Tag:   refID,
		}

		for _, sub := range subs {
			if event.AssignedTo != nil && *event.AssignedTo != sub.UserID {
				continue
			}
			enabled, _ := s.push.IsPreferenceEnabled(sub.UserID, spaceID, model.NotifTypeEventReminder)
			if !enabled {
				continue
			}
			sent, err := s.push.WasSent(sub.UserID, model.NotifTypeEventReminder, refID)
			if err != nil || sent {
				continue
			}

			if err := s.service.Send(&sub, payload); err != nil {
				if errors.Is(err, ErrExpired) {
					s.push.DeleteByEndpoint(sub.Endpoint)
				} else {
					s.logger.Error("send event reminder", "event_id", event.ID, "error", err)
				}
				continue
			}
			s.push.RecordSent(sub.UserID, model.NotifTypeEventReminder, refID)
		}
	}
}

// checkTaskDigest sends each subscriber a summary of their tasks due today,
// once per day at the space's configured hour. A task counts toward a user's
// digest when it is assigned to them or unassigned.
func (s *Scheduler) checkTaskDigest(spaceID int64, now time.Time) {
	hour, err := s.settings.GetInt(spaceID, settingDigestHour, defaultDigestHour)
	if err != nil {
		hour = defaultDigestHour
	}
	if now.Hour() != hour {
		return
	}

	refID := "task-digest-" + now.Format("2006-01-02")

	tasks, err := s.tasks.List(spaceID)
	if err != nil {
		s.logger.Error("list tasks", "space_id", spaceID, "error", err)
		return
	}

	var due []model.Task
	for _, t := range tasks {
		var last *time.Time
		if comp, err := s.tasks.LastCompletionForTask(t.ID); err == nil && comp != nil {
			last = &comp.CompletedAt
		}
		status, _ := task.ComputeStatus(t, last, now)
		if status == task.StatusPending || status == task.StatusOverdue {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return
	}

	subs, err := s.push.ListBySpace(spaceID)
	if err != nil {
		s.logger.Error("list subscriptions", "space_id", spaceID, "error", err)
		return
	}

	for _, sub := range subs {
		var mine []model.Task
		for _, t := range due {
			if t.AssignedTo == nil || *t.AssignedTo == sub.UserID {
				mine = append(mine, t)
			}
		}
		if len(mine) == 0 {
			continue
		}

		enabled, _ := s.push.IsPreferenceEnabled(sub.UserID, spaceID, model.NotifTypeTaskReminder)
		if !enabled {
			continue
		}
		sent, err := s.push.WasSent(sub.UserID, model.NotifTypeTaskReminder, refID)
		if err != nil || sent {
			continue
		}

		body := fmt.Sprintf("You have %d tasks due today", len(mine))
		if len(mine) == 1 {
			body = fmt.Sprintf("Task due today: %s", mine[0].Title)
		}
		payload := Payload{
			Title: "Today's Tasks",
			Body:  body,
			URL:   "/tasks",
			Tag:   "task-digest",
		}

		if err := s.service.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(sub.Endpoint)
			} else {
				s.logger.Error("send task digest", "user_id", sub.UserID, "error", err)
			}
			continue
		}
		s.push.RecordSent(sub.UserID, model.NotifTypeTaskReminder, refID)
	}
}

// NotifyMessagePosted notifies space members about a new board message.
// Called from the message handler, not from the scheduler loop.
func (s *Scheduler) NotifyMessagePosted(spaceID, excludeUserID int64, authorName, body string) {
	subs, err := s.push.ListBySpace(spaceID)
	if err != nil {
		s.logger.Error("message notification list subs", "space_id", spaceID, "error", err)
		return
	}

	if len(body) > maxNotificationBody {
		body = body[:maxNotificationBody] + "..."
	}
	payload := Payload{
		Title: authorName,
		Body:  body,
		URL:   "/messages",
		Tag:   "message",
	}

	for _, sub := range subs {
		if sub.UserID == excludeUserID {
			continue
		}
		enabled, _ := s.push.IsPreferenceEnabled(sub.UserID, spaceID, model.NotifTypeMessagePosted)
		if !enabled {
			continue
		}

		if err := s.service.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(sub.Endpoint)
			} else {
				s.logger.Error("send message notification", "user_id", sub.UserID, "error", err)
			}
		}
	}
}

// NotifyDeletionWarning warns a user on every device, across all their
// spaces, that their account is about to be purged. Preference checks are
// skipped: this is the one notification nobody should be able to miss.
func (s *Scheduler) NotifyDeletionWarning(userID int64, deleteAt time.Time) {
	subs, err := s.push.ListAllByUser(userID)
	if err != nil {
		s.logger.Error("deletion warning list subs", "user_id", userID, "error", err)
		return
	}

	payload := Payload{
		Title: "Account Deletion Scheduled",
		Body:  fmt.Sprintf("Your account will be permanently deleted on %s. Sign in to cancel.", deleteAt.Format("January 2, 2006")),
		URL:   "/account",
		Tag:   "deletion-warning",
	}

	for _, sub := range subs {
		if err := s.service.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(sub.Endpoint)
			} else {
				s.logger.Error("send deletion warning", "user_id", userID, "error", err)
			}
		}
	}
}
