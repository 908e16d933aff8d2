package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"chat-client/internal/models"
)

// ChatPreviews lists the chats of a user with their last-message preview.
func (c *Client) ChatPreviews(ctx context.Context, userID int) ([]models.Chat, error) {
	var out struct {
		Chats []models.Chat `json:"chats"`
	}
	path := fmt.Sprintf("/api/chats/user/%d/preview", userID)
	if err := c.do(ctx, http.MethodGet, "/api/chats/user/:user_id/preview", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// Chat fetches chat metadata and members.
func (c *Client) Chat(ctx context.Context, chatID int) (models.Chat, error) {
	var out struct {
		Chat models.Chat `json:"chat"`
	}
	path := fmt.Sprintf("/api/chats/%d", chatID)
	if err := c.do(ctx, http.MethodGet, "/api/chats/:chat_id", path, nil, &out); err != nil {
		return models.Chat{}, err
	}
	if out.Chat.ID == 0 {
		out.Chat.ID = chatID
	}
	return out.Chat, nil
}

// ChatMessages fetches the ordered message history of a chat.
func (c *Client) ChatMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/messages/chat/%d", chatID)
	if err := c.do(ctx, http.MethodGet, "/api/messages/chat/:chat_id", path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Notifications(ctx context.Context, limit, offset int) ([]models.Notification, error) {
	var out struct {
		Data []models.Notification `json:"data"`
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	if err := c.do(ctx, http.MethodGet, "/api/notifications", "/api/notifications?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", "/api/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, notificationID int) error {
	path := fmt.Sprintf("/api/notifications/%d/read", notificationID)
	return c.do(ctx, http.MethodPut, "/api/notifications/:id/read", path, nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/read-all", "/api/notifications/read-all", nil, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, notificationID int) error {
	path := fmt.Sprintf("/api/notifications/%d", notificationID)
	return c.do(ctx, http.MethodDelete, "/api/notifications/:id", path, nil, nil)
}
