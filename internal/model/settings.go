package model

import "time"

// Setting is one key/value pair of a space's configuration. Known keys are
// seeded at space creation; unknown keys are rejected at the handler.
type Setting struct {
	SpaceID   int64     `json:"space_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
