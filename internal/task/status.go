package task

import (
	"log/slog"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/recurrence"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
	StatusNotDue    Status = "not_due"
)

// WithStatus pairs a task with its derived status and occurrence due date.
type WithStatus struct {
	model.Task
	Status         Status     `json:"status"`
	CurrentDue     *time.Time `json:"current_due"`
	LastCompletion *time.Time `json:"last_completed_at"`
}

// ComputeStatus derives a task's status and current due date from its
// recurrence rule and last completion. Recurrence expansion is anchored on
// the task's due date when it has one, otherwise on creation.
func ComputeStatus(t model.Task, lastCompletion *time.Time, today time.Time) (Status, *time.Time) {
	today = startOfDay(today)

	if t.RecurrenceRule == "" {
		return oneOffStatus(t, lastCompletion, today)
	}

	rule, err := recurrence.Parse(t.RecurrenceRule)
	if err != nil {
		slog.Error("invalid recurrence rule", "task_id", t.ID, "rule", t.RecurrenceRule, "error", err)
		return oneOffStatus(t, lastCompletion, today)
	}

	anchor := anchorDate(t)

	// Expand through end of tomorrow so today's occurrence is always covered.
	horizon := today.Add(48 * time.Hour)
	occurrences := recurrence.Expand(rule, anchor, anchor.Add(time.Hour), anchor, horizon)
	if len(occurrences) == 0 {
		// The whole series starts beyond the horizon. Surface its first
		// occurrence so list views can still show a date.
		next := recurrence.Next(rule, anchor, today)
		if next.IsZero() {
			return StatusNotDue, nil
		}
		day := startOfDay(next)
		return StatusNotDue, &day
	}

	// Most recent occurrence on or before today is the current one.
	endOfToday := today.Add(24 * time.Hour)
	var currentDue *time.Time
	for i := len(occurrences) - 1; i >= 0; i-- {
		occDate := startOfDay(occurrences[i].Start)
		if occDate.Before(endOfToday) {
			currentDue = &occDate
			break
		}
	}

	if currentDue == nil {
		// Nothing due yet; surface the first upcoming occurrence.
		next := startOfDay(occurrences[0].Start)
		return StatusNotDue, &next
	}

	if lastCompletion != nil && !startOfDay(*lastCompletion).Before(*currentDue) {
		return StatusCompleted, currentDue
	}
	if currentDue.Before(today) {
		return StatusOverdue, currentDue
	}
	return StatusPending, currentDue
}

func oneOffStatus(t model.Task, lastCompletion *time.Time, today time.Time) (Status, *time.Time) {
	var due *time.Time
	if t.DueDate != nil {
		d := startOfDay(*t.DueDate)
		due = &d
	}

	if lastCompletion != nil {
		return StatusCompleted, due
	}
	if due != nil && due.Before(today) {
		return StatusOverdue, due
	}
	return StatusPending, due
}

// IsDueOnDate reports whether the task has an occurrence on the given day.
// One-off tasks count as due every day until completed.
func IsDueOnDate(t model.Task, date time.Time) bool {
	if t.RecurrenceRule == "" {
		return true
	}

	rule, err := recurrence.Parse(t.RecurrenceRule)
	if err != nil {
		return false
	}

	anchor := anchorDate(t)
	dayStart := startOfDay(date)
	dayEnd := dayStart.Add(24 * time.Hour)
	occurrences := recurrence.Expand(rule, anchor, anchor.Add(time.Hour), dayStart, dayEnd)
	return len(occurrences) > 0
}

func anchorDate(t model.Task) time.Time {
	if t.DueDate != nil {
		return *t.DueDate
	}
	return t.CreatedAt
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
