package models

import "time"

// Chat types.
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
)

// User is the public profile of an account.
type User struct {
	ID         int        `json:"user_id"`
	Username   string     `json:"username"`
	FullName   string     `json:"full_name,omitempty"`
	ProfilePic string     `json:"profile_pic,omitempty"`
	IsOnline   bool       `json:"is_online,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// Member is a participant of a chat.
type Member struct {
	UserID   int        `json:"user_id"`
	User     *User      `json:"user,omitempty"`
	IsOnline bool       `json:"is_online,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Chat is a private or group conversation.
type Chat struct {
	ID          int      `json:"chat_id"`
	Type        string   `json:"chat_type"`
	Name        string   `json:"chat_name,omitempty"`
	Image       string   `json:"chat_image,omitempty"`
	Members     []Member `json:"members"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// OtherMember returns the first member that is not selfID.
func (c Chat) OtherMember(selfID int) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID != selfID {
			return m, true
		}
	}
	return Member{}, false
}

// DisplayName resolves the title shown for the chat.
func (c Chat) DisplayName(selfID int) string {
	if c.Type != ChatPrivate {
		return c.Name
	}
	other, ok := c.OtherMember(selfID)
	if !ok || other.User == nil {
		return c.Name
	}
	if other.User.FullName != "" {
		return other.User.FullName
	}
	return other.User.Username
}
