package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Space struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SpaceMember struct {
	ID        int64     `json:"id"`
	SpaceID   int64     `json:"space_id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SpaceMemberDetail joins membership rows with the member's user record
// for list endpoints.
type SpaceMemberDetail struct {
	SpaceMember
	Email string `json:"email"`
	Name  string `json:"name"`
}
