package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/models"
	"chat-client/internal/realtime"
	"chat-client/internal/session"
)

type SessionViewMock struct {
	mock.Mock
}

func (m *SessionViewMock) State() realtime.State {
	args := m.Called()
	return args.Get(0).(realtime.State)
}

func (m *SessionViewMock) UserID() int {
	args := m.Called()
	return args.Int(0)
}

func (m *SessionViewMock) Connect(userID int) {
	m.Called(userID)
}

func (m *SessionViewMock) Retry() {
	m.Called()
}

func (m *SessionViewMock) Close() {
	m.Called()
}

type WindowViewMock struct {
	mock.Mock
}

func (m *WindowViewMock) ChatID() int {
	args := m.Called()
	return args.Int(0)
}

func (m *WindowViewMock) Title() string {
	args := m.Called()
	return args.String(0)
}

func (m *WindowViewMock) Messages() []models.Message {
	args := m.Called()
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list
}

func (m *WindowViewMock) Typing() []models.TypingUser {
	args := m.Called()
	var list []models.TypingUser
	if val := args.Get(0); val != nil {
		list = val.([]models.TypingUser)
	}
	return list
}

func (m *WindowViewMock) Send(text string) (string, error) {
	args := m.Called(text)
	return args.String(0), args.Error(1)
}

func (m *WindowViewMock) Resend(tempID string) error {
	args := m.Called(tempID)
	return args.Error(0)
}

func (m *WindowViewMock) Open(ctx context.Context, chatID int) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *WindowViewMock) SendFile(att models.Attachment, caption string) (string, error) {
	args := m.Called(att, caption)
	return args.String(0), args.Error(1)
}

func (m *WindowViewMock) Discard(tempID string) error {
	args := m.Called(tempID)
	return args.Error(0)
}

func (m *WindowViewMock) Typed() {
	m.Called()
}

func (m *WindowViewMock) MarkRead(messageID int) bool {
	args := m.Called(messageID)
	return args.Bool(0)
}

type PresenceViewMock struct {
	mock.Mock
}

func (m *PresenceViewMock) Presence(userID int) (models.Presence, bool) {
	args := m.Called(userID)
	var p models.Presence
	if val := args.Get(0); val != nil {
		p = val.(models.Presence)
	}
	return p, args.Bool(1)
}

type ChatListViewMock struct {
	mock.Mock
}

func (m *ChatListViewMock) Filter(query string) []models.Chat {
	args := m.Called(query)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list
}

type NotificationViewMock struct {
	mock.Mock
}

func (m *NotificationViewMock) Items() []models.Notification {
	args := m.Called()
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list
}

func (m *NotificationViewMock) Unread() int {
	args := m.Called()
	return args.Int(0)
}

func (m *NotificationViewMock) MarkRead(ctx context.Context, notificationID int) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

func (m *NotificationViewMock) MarkAllRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *NotificationViewMock) Delete(ctx context.Context, notificationID int) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

func (m *NotificationViewMock) ClearAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type AccountViewMock struct {
	mock.Mock
}

func (m *AccountViewMock) Login(ctx context.Context, tokens session.Tokens, user models.User) error {
	args := m.Called(ctx, tokens, user)
	return args.Error(0)
}

func (m *AccountViewMock) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *AccountViewMock) PanelWidth(ctx context.Context) int {
	args := m.Called(ctx)
	return args.Int(0)
}

func (m *AccountViewMock) SetPanelWidth(ctx context.Context, width int) error {
	args := m.Called(ctx, width)
	return args.Error(0)
}
