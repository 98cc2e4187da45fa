package model

import "time"

// DeletedAccount is a pending account deletion inside its grace period.
// The email is snapshotted so warnings can still be sent if the user row
// changes before the purge.
type DeletedAccount struct {
	ID                  int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	Email               string     `json:"email"`
	RequestedAt         time.Time  `json:"requested_at"`
	PermanentDeletionAt time.Time  `json:"permanent_deletion_at"`
	WarningSentAt       *time.Time `json:"warning_sent_at"`
}
