package model

import "time"

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

const (
	ProjectStatusActive = "active"
	ProjectStatusOnHold = "on_hold"
	ProjectStatusDone   = "done"
)

type Task struct {
	ID             int64      `json:"id"`
	SpaceID        int64      `json:"space_id"`
	ProjectID      *int64     `json:"project_id"`
	Title          string     `json:"title"`
	Notes          string     `json:"notes"`
	AssignedTo     *int64     `json:"assigned_to"`
	DueDate        *time.Time `json:"due_date"`
	Priority       string     `json:"priority"`
	RecurrenceRule string     `json:"recurrence_rule"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type TaskCompletion struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	CompletedBy *int64    `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
}

type Project struct {
	ID          int64      `json:"id"`
	SpaceID     int64      `json:"space_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProjectSummary carries a project plus live task counts for list views.
type ProjectSummary struct {
	Project
	TaskCount int `json:"task_count"`
	DoneCount int `json:"done_count"`
}
