package model

import "time"

const (
	PlanFree = "free"
	PlanPlus = "plus"
)

// Subscription statuses mirror Stripe's; spaces without a row are free.
const (
	SubStatusActive   = "active"
	SubStatusPastDue  = "past_due"
	SubStatusCanceled = "canceled"
)

type Subscription struct {
	ID                int64      `json:"id"`
	SpaceID           int64      `json:"space_id"`
	StripeCustomerID  string     `json:"-"`
	StripeSubID       string     `json:"-"`
	Plan              string     `json:"plan"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Usage metrics counted per space per calendar month.
const (
	MetricTasksCreated       = "tasks_created"
	MetricEventsCreated      = "events_created"
	MetricCalendarSyncs      = "calendar_syncs"
	MetricMessagesPosted     = "messages_posted"
	MetricExportsRequested   = "exports_requested"
	MetricMembersInvited     = "members_invited"
	MetricConnectionsCreated = "connections_created"
)

type UsageCounter struct {
	ID        int64     `json:"id"`
	SpaceID   int64     `json:"space_id"`
	Metric    string    `json:"metric"`
	Period    string    `json:"period"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}
