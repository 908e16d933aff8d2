package wstest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-client/internal/models"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP authenticates the handshake, upgrades the connection and serves
// room membership until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	userID, _ := strconv.Atoi(r.Header.Get("X-User-ID"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := h.register(conn, ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Token:       token,
		QueryToken:  r.URL.Query().Get("token"),
		QueryUserID: r.URL.Query().Get("userId"),
		ConnectedAt: time.Now(),
	})

	defer func() {
		h.unregister(conn)
		conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket read error")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		h.record(f)
		h.handle(conn, f)
	}
}

func (h *Hub) handle(conn *websocket.Conn, f Frame) {
	switch f.Event {
	case models.EventJoinChat:
		var room models.RoomEvent
		if json.Unmarshal(f.Data, &room) == nil {
			h.AddChatClient(room.ChatID, conn)
		}
	case models.EventLeaveChat:
		var room models.RoomEvent
		if json.Unmarshal(f.Data, &room) == nil {
			h.RemoveChatClient(room.ChatID, conn)
		}
	case models.EventSendMessage:
		if !h.EchoMessages {
			return
		}
		var send models.SendMessageEvent
		if json.Unmarshal(f.Data, &send) != nil {
			return
		}
		h.BroadcastChat(send.ChatID, models.EventNewMessage, h.confirm(send))
	}
}

func (h *Hub) confirm(send models.SendMessageEvent) models.Message {
	h.mu.Lock()
	h.nextMessageID++
	id := h.nextMessageID
	h.mu.Unlock()
	return models.Message{
		ID:          id,
		TempID:      send.TempID,
		ChatID:      send.ChatID,
		SenderID:    send.SenderID,
		Text:        send.Text,
		Type:        send.Type,
		Attachments: send.Attachments,
		CreatedAt:   time.Now().UTC(),
		Status:      models.StatusSent,
	}
}
