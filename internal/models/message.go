package models

import "time"

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders confirmed statuses so updates only move forward.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Attachment is a file carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// Message represents a chat message, either server-confirmed or optimistic.
type Message struct {
	ID             int           `db:"message_id" json:"message_id"`
	TempID         string        `db:"temp_id" json:"tempId,omitempty"`
	ChatID         int           `db:"chat_id" json:"chat_id"`
	SenderID       int           `db:"sender_id" json:"sender_id"`
	Text           string        `db:"message_text" json:"message_text"`
	Type           string        `db:"message_type" json:"message_type,omitempty"`
	Attachments    []Attachment  `db:"-" json:"attachments,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	Status         MessageStatus `db:"status" json:"status,omitempty"`
	IsOptimistic   bool          `db:"-" json:"isOptimistic,omitempty"`
	UploadProgress int           `db:"-" json:"upload_progress,omitempty"`
}

// Draft is the locally composed content of a message before it is sent.
type Draft struct {
	ChatID      int
	SenderID    int
	Text        string
	Type        string
	Attachments []Attachment
}

// StatusUpdate is pushed when the server changes a message's delivery state.
type StatusUpdate struct {
	MessageID int           `json:"message_id"`
	ChatID    int           `json:"chat_id,omitempty"`
	Status    MessageStatus `json:"status"`
}

// UploadProgress reports progress of an optimistic file send.
type UploadProgress struct {
	TempID   string `json:"tempId"`
	Progress int    `json:"progress"`
}

// UploadSuccess carries the confirmed message for a finished file send.
type UploadSuccess struct {
	TempID  string  `json:"tempId"`
	Message Message `json:"message"`
}
