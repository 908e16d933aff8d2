package models

import "time"

// Presence is a user's online state.
type Presence struct {
	UserID     int        `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// TypingUser is an entry of the typing indicator set.
type TypingUser struct {
	UserID   int    `json:"userId"`
	UserName string `json:"userName"`
}
