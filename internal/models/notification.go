package models

import "time"

// Notification is an in-app notification for the current user.
type Notification struct {
	ID        int        `json:"notification_id"`
	Type      string     `json:"type,omitempty"`
	Title     string     `json:"title,omitempty"`
	Body      string     `json:"body,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
