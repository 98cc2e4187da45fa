package model

import "time"

type Message struct {
	ID        int64      `json:"id"`
	SpaceID   int64      `json:"space_id"`
	UserID    int64      `json:"user_id"`
	Body      string     `json:"body"`
	EditedAt  *time.Time `json:"edited_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// MessageDetail adds the author's display name for list responses.
type MessageDetail struct {
	Message
	AuthorName string `json:"author_name"`
}
