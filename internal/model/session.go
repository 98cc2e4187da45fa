package model

import "time"

// Magic link purposes. Login and register tokens authenticate; the others
// gate a single follow-up action.
const (
	PurposeLogin         = "login"
	PurposeRegister      = "register"
	PurposePasswordReset = "password_reset"
	PurposeEmailVerify   = "email_verify"
	PurposeInvite        = "invite"
)

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	SpaceID   int64     `json:"space_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type MagicLink struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Email     string     `json:"email"`
	Purpose   string     `json:"purpose"`
	SpaceID   *int64     `json:"space_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}
