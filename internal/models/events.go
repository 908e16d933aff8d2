package models

import "time"

// Socket event names.
const (
	EventJoinChat      = "join_chat"
	EventLeaveChat     = "leave_chat"
	EventSendMessage   = "send_message"
	EventTyping        = "typing"
	EventStoppedTyping = "stopped_typing"
	EventMarkRead      = "mark_read"

	EventNewMessage          = "new_message"
	EventMessageStatusUpdate = "message_status_update"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventUserOnlineStatus    = "user_online_status"
	EventUploadProgress      = "file_upload_progress_update"
	EventUploadSuccess       = "file_upload_success"
)

// RoomEvent is the payload of join_chat and leave_chat.
type RoomEvent struct {
	ChatID int `json:"chatId"`
}

// SendMessageEvent is the payload of send_message.
type SendMessageEvent struct {
	ChatID      int          `json:"chat_id"`
	SenderID    int          `json:"sender_id"`
	Text        string       `json:"message_text"`
	Type        string       `json:"message_type"`
	Attachments []Attachment `json:"attachments,omitempty"`
	TempID      string       `json:"tempId"`
}

// TypingEvent is the payload of typing and stopped_typing.
type TypingEvent struct {
	ChatID int `json:"chatId"`
	UserID int `json:"userId"`
}

// MarkReadEvent is the payload of mark_read.
type MarkReadEvent struct {
	MessageID int `json:"messageId"`
	UserID    int `json:"userId"`
}

// UserTypingEvent is the payload of user_typing and user_stopped_typing.
type UserTypingEvent struct {
	UserID   int    `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// UserOnlineEvent is the payload of user_online and user_offline.
type UserOnlineEvent struct {
	UserID   int        `json:"user_id"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// UserStatusEvent is the payload of user_online_status.
type UserStatusEvent struct {
	UserID   int        `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
