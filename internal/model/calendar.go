package model

import "time"

const (
	ProviderGoogle  = "google"
	ProviderOutlook = "outlook"
)

const (
	ConnectionStatusActive  = "active"
	ConnectionStatusError   = "error"
	ConnectionStatusRevoked = "revoked"
)

const (
	SyncDirectionPull = "pull"
	SyncDirectionPush = "push"
	SyncDirectionFull = "full"
)

const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailed  = "failed"
)

// Event origins. Local events were created here and push outward; remote
// events arrived from a provider and pull updates inward.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

const (
	ResolutionLocal  = "local"
	ResolutionRemote = "remote"
)

type CalendarConnection struct {
	ID                 int64      `json:"id"`
	SpaceID            int64      `json:"space_id"`
	UserID             int64      `json:"user_id"`
	Provider           string     `json:"provider"`
	ExternalCalendarID string     `json:"external_calendar_id"`
	AccessToken        string     `json:"-"`
	RefreshToken       string     `json:"-"`
	TokenExpiresAt     *time.Time `json:"token_expires_at"`
	SyncToken          string     `json:"-"`
	Status             string     `json:"status"`
	LastError          string     `json:"last_error,omitempty"`
	LastSyncedAt       *time.Time `json:"last_synced_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type CalendarEvent struct {
	ID              int64      `json:"id"`
	UID             string     `json:"uid"`
	SpaceID         int64      `json:"space_id"`
	ConnectionID    *int64     `json:"connection_id"`
	ProviderEventID string     `json:"provider_event_id,omitempty"`
	Etag            string     `json:"-"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	AllDay          bool       `json:"all_day"`
	AssignedTo      *int64     `json:"assigned_to"`
	Origin          string     `json:"origin"`
	Dirty           bool       `json:"-"`
	DeletedAt       *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type CalendarSyncLog struct {
	ID           string     `json:"id"`
	ConnectionID int64      `json:"connection_id"`
	Direction    string     `json:"direction"`
	Pulled       int        `json:"pulled"`
	Pushed       int        `json:"pushed"`
	Conflicts    int        `json:"conflicts"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// CalendarSyncConflict records an event both sides changed since the last
// sync. Conflicts are never merged automatically; a user picks a side.
type CalendarSyncConflict struct {
	ID              int64      `json:"id"`
	ConnectionID    int64      `json:"connection_id"`
	EventID         int64      `json:"event_id"`
	ProviderEventID string     `json:"provider_event_id"`
	LocalPayload    string     `json:"local_payload"`
	RemotePayload   string     `json:"remote_payload"`
	DetectedAt      time.Time  `json:"detected_at"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	Resolution      string     `json:"resolution,omitempty"`
}
