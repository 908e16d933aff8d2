package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-client/internal/chat"
	"chat-client/internal/logging"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/realtime"
	"chat-client/internal/reconcile"
	"chat-client/internal/session"
)

type SessionView interface {
	State() realtime.State
	UserID() int
	Connect(userID int)
	Retry()
	Close()
}

type WindowView interface {
	ChatID() int
	Title() string
	Messages() []models.Message
	Typing() []models.TypingUser
	Open(ctx context.Context, chatID int) error
	Send(text string) (string, error)
	SendFile(att models.Attachment, caption string) (string, error)
	Resend(tempID string) error
	Discard(tempID string) error
	Typed()
	MarkRead(messageID int) bool
}

type PresenceView interface {
	Presence(userID int) (models.Presence, bool)
}

type ChatListView interface {
	Filter(query string) []models.Chat
}

type NotificationView interface {
	Items() []models.Notification
	Unread() int
	MarkRead(ctx context.Context, notificationID int) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, notificationID int) error
	ClearAll(ctx context.Context) (int, error)
}

// AccountView is the persisted login and layout state.
type AccountView interface {
	Login(ctx context.Context, tokens session.Tokens, user models.User) error
	Logout(ctx context.Context) error
	PanelWidth(ctx context.Context) int
	SetPanelWidth(ctx context.Context, width int) error
}

// DebugHandler exposes the in-memory state of the running client.
type DebugHandler struct {
	session       SessionView
	window        WindowView
	presence      PresenceView
	chats         ChatListView
	notifications NotificationView
	account       AccountView
}

// NewDebugHandler builds a DebugHandler.
func NewDebugHandler(sess SessionView, window WindowView, presence PresenceView, chats ChatListView, notifications NotificationView, account AccountView) *DebugHandler {
	return &DebugHandler{
		session:       sess,
		window:        window,
		presence:      presence,
		chats:         chats,
		notifications: notifications,
		account:       account,
	}
}

// NewRouter wires the debug API with tracing, metrics and access logging.
func NewRouter(h *DebugHandler, service string, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(service),
		requestLogger(logging.Component(log, "debug_api")),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	debug := router.Group("/debug")
	debug.GET("/session", h.Session)
	debug.POST("/session/login", h.Login)
	debug.POST("/session/logout", h.Logout)
	debug.GET("/session/panel-width", h.PanelWidth)
	debug.PUT("/session/panel-width", h.SetPanelWidth)
	debug.POST("/socket/retry", h.RetrySocket)

	debug.POST("/chats/:chat_id/open", h.OpenChat)
	debug.GET("/chats", h.ListChats)

	debug.GET("/messages", h.ListMessages)
	debug.POST("/messages", h.SendMessage)
	debug.POST("/messages/:id/retry", h.RetryMessage)
	debug.POST("/messages/:id/read", h.MarkMessageRead)
	debug.DELETE("/messages/:id", h.DiscardMessage)
	debug.POST("/files", h.SendFile)

	debug.GET("/typing", h.Typing)
	debug.POST("/typing", h.Typed)
	debug.GET("/presence/:user_id", h.Presence)

	debug.GET("/notifications", h.ListNotifications)
	debug.PUT("/notifications/:id/read", h.MarkNotificationRead)
	debug.POST("/notifications/read-all", h.MarkAllNotificationsRead)
	debug.DELETE("/notifications/:id", h.DeleteNotification)
	debug.DELETE("/notifications", h.ClearNotifications)
	return router
}

func (h *DebugHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "socket": h.session.State()})
}

func (h *DebugHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id":    h.session.UserID(),
		"state":      h.session.State(),
		"chat_id":    h.window.ChatID(),
		"chat_title": h.window.Title(),
	})
}

// ListMessages returns the reconciled message list of the open chat.
func (h *DebugHandler) ListMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chat_id":  h.window.ChatID(),
		"messages": h.window.Messages(),
	})
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage sends a text message to the open chat.
func (h *DebugHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	tempID, err := h.window.Send(req.Text)
	switch {
	case errors.Is(err, chat.ErrNoChat):
		c.JSON(http.StatusConflict, gin.H{"error": "no chat is open"})
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	case err != nil:
		log := logging.Ctx(c.Request.Context())
		log.Error().Err(err).Msg("send message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"temp_id": tempID})
}

// RetryMessage republishes a failed optimistic message.
func (h *DebugHandler) RetryMessage(c *gin.Context) {
	tempID := c.Param("id")
	if err := h.window.Resend(tempID); err != nil {
		if errors.Is(err, reconcile.ErrUnknownTempID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"temp_id": tempID})
}

func (h *DebugHandler) Typing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"typing": h.window.Typing()})
}

func (h *DebugHandler) Presence(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	p, ok := h.presence.Presence(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no presence recorded"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListChats returns the chat previews, optionally filtered by ?q=.
func (h *DebugHandler) ListChats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chats": h.chats.Filter(c.Query("q"))})
}

func (h *DebugHandler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"unread_count":  h.notifications.Unread(),
		"notifications": h.notifications.Items(),
	})
}
