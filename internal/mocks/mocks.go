package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/models"
)

type FetcherMock struct {
	mock.Mock
}

func (m *FetcherMock) ChatMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

type MessageArchiveMock struct {
	mock.Mock
}

func (m *MessageArchiveMock) SaveMessages(ctx context.Context, chatID int, messages []models.Message) error {
	args := m.Called(ctx, chatID, messages)
	return args.Error(0)
}

func (m *MessageArchiveMock) ListMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

type ChatAPIMock struct {
	mock.Mock
}

func (m *ChatAPIMock) Chat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatAPIMock) ChatPreviews(ctx context.Context, userID int) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

type NotificationAPIMock struct {
	mock.Mock
}

func (m *NotificationAPIMock) Notifications(ctx context.Context, limit, offset int) ([]models.Notification, error) {
	args := m.Called(ctx, limit, offset)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *NotificationAPIMock) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *NotificationAPIMock) MarkNotificationRead(ctx context.Context, notificationID int) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

func (m *NotificationAPIMock) MarkAllNotificationsRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *NotificationAPIMock) DeleteNotification(ctx context.Context, notificationID int) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}
