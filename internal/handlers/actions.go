package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-client/internal/api"
	"chat-client/internal/chat"
	"chat-client/internal/logging"
	"chat-client/internal/models"
	"chat-client/internal/realtime"
	"chat-client/internal/reconcile"
	"chat-client/internal/session"
)

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + strings.ReplaceAll(name, "_", " ")})
		return 0, false
	}
	return id, true
}

// writeUpstreamError maps a REST failure to a debug API response.
func writeUpstreamError(c *gin.Context, err error, msg string) {
	switch {
	case api.IsAuthError(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
	case errors.Is(err, api.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log := logging.Ctx(c.Request.Context())
		log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusBadGateway, gin.H{"error": msg})
	}
}

type loginRequest struct {
	AccessToken  string      `json:"accessToken" binding:"required"`
	RefreshToken string      `json:"refreshToken"`
	User         models.User `json:"user"`
}

// Login stores new credentials for the running user and reconnects the socket
// so the handshake carries them.
func (h *DebugHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accessToken is required"})
		return
	}
	current := h.session.UserID()
	if req.User.ID == 0 {
		req.User.ID = current
	}
	if current != 0 && req.User.ID != current {
		c.JSON(http.StatusConflict, gin.H{"error": "client is running for another user"})
		return
	}

	ctx := c.Request.Context()
	tokens := session.Tokens{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
	if err := h.account.Login(ctx, tokens, req.User); err != nil {
		log := logging.Ctx(ctx)
		log.Error().Err(err).Msg("store login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store session"})
		return
	}
	h.session.Close()
	h.session.Connect(req.User.ID)
	c.JSON(http.StatusOK, gin.H{"user_id": req.User.ID, "state": h.session.State()})
}

// Logout drops the stored credentials and closes the socket.
func (h *DebugHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.account.Logout(ctx); err != nil {
		log := logging.Ctx(ctx)
		log.Error().Err(err).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear session"})
		return
	}
	h.session.Close()
	c.Status(http.StatusNoContent)
}

func (h *DebugHandler) PanelWidth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"width": h.account.PanelWidth(c.Request.Context())})
}

type panelWidthRequest struct {
	Width int `json:"width" binding:"required,gt=0"`
}

func (h *DebugHandler) SetPanelWidth(c *gin.Context) {
	var req panelWidthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width must be a positive integer"})
		return
	}
	if err := h.account.SetPanelWidth(c.Request.Context(), req.Width); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store panel width"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"width": req.Width})
}

// RetrySocket restarts a failed or closed socket. An active one is left alone.
func (h *DebugHandler) RetrySocket(c *gin.Context) {
	switch h.session.State() {
	case realtime.StateFailed:
		h.session.Retry()
	case realtime.StateDisconnected:
		userID := h.session.UserID()
		if userID == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "no user to connect as"})
			return
		}
		h.session.Connect(userID)
	}
	c.JSON(http.StatusAccepted, gin.H{"state": h.session.State()})
}

// OpenChat switches the window to another chat and loads its history.
func (h *DebugHandler) OpenChat(c *gin.Context) {
	chatID, ok := paramID(c, "chat_id")
	if !ok {
		return
	}
	if err := h.window.Open(c.Request.Context(), chatID); err != nil {
		if errors.Is(err, reconcile.ErrStaleSnapshot) {
			c.JSON(http.StatusConflict, gin.H{"error": "superseded by another chat switch"})
			return
		}
		writeUpstreamError(c, err, "failed to open chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id":    chatID,
		"chat_title": h.window.Title(),
		"messages":   len(h.window.Messages()),
	})
}

// MarkMessageRead sends mark_read for a confirmed message.
func (h *DebugHandler) MarkMessageRead(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if !h.window.MarkRead(messageID) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "socket is not connected"})
		return
	}
	c.Status(http.StatusAccepted)
}

// DiscardMessage drops a failed optimistic message.
func (h *DebugHandler) DiscardMessage(c *gin.Context) {
	if err := h.window.Discard(c.Param("id")); err != nil {
		if errors.Is(err, reconcile.ErrUnknownTempID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to discard message"})
		return
	}
	c.Status(http.StatusNoContent)
}

type sendFileRequest struct {
	models.Attachment
	Caption string `json:"caption"`
}

// SendFile sends an already uploaded file to the open chat.
func (h *DebugHandler) SendFile(c *gin.Context) {
	var req sendFileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	tempID, err := h.window.SendFile(req.Attachment, req.Caption)
	if err != nil {
		if errors.Is(err, chat.ErrNoChat) {
			c.JSON(http.StatusConflict, gin.H{"error": "no chat is open"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send file"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"temp_id": tempID})
}

// Typed records a local keystroke in the open chat.
func (h *DebugHandler) Typed(c *gin.Context) {
	if h.window.ChatID() == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "no chat is open"})
		return
	}
	h.window.Typed()
	c.Status(http.StatusNoContent)
}

func (h *DebugHandler) MarkNotificationRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), id); err != nil {
		writeUpstreamError(c, err, "failed to mark notification read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": h.notifications.Unread()})
}

func (h *DebugHandler) MarkAllNotificationsRead(c *gin.Context) {
	if err := h.notifications.MarkAllRead(c.Request.Context()); err != nil {
		writeUpstreamError(c, err, "failed to mark notifications read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": h.notifications.Unread()})
}

func (h *DebugHandler) DeleteNotification(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), id); err != nil {
		writeUpstreamError(c, err, "failed to delete notification")
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearNotifications deletes every cached notification.
func (h *DebugHandler) ClearNotifications(c *gin.Context) {
	deleted, err := h.notifications.ClearAll(c.Request.Context())
	if err != nil {
		writeUpstreamError(c, err, "failed to clear notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
