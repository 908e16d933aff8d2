// Package wstest runs an in-process chat socket server for tests.
package wstest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame is one socket message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	conn    *websocket.Conn
	info    ConnInfo
	writeMu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is an in-process chat socket backend. It keeps rooms keyed by chat id and
// records every frame the clients send.
type Hub struct {
	chatRooms map[int]map[*websocket.Conn]bool
	clients   map[*websocket.Conn]*client
	received  []Frame
	handshake []ConnInfo
	mu        sync.RWMutex

	// EchoMessages makes send_message come back to the room as new_message
	// with a server-assigned id.
	EchoMessages  bool
	nextMessageID int

	log zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		chatRooms: make(map[int]map[*websocket.Conn]bool),
		clients:   make(map[*websocket.Conn]*client),
		log:       zerolog.Nop(),
	}
}

// StartMessageIDs sets the id the next echoed message receives.
func (h *Hub) StartMessageIDs(next int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextMessageID = next - 1
}

// AddChatClient registers a websocket connection to a chat room.
func (h *Hub) AddChatClient(chatID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.chatRooms[chatID]; !ok {
		h.chatRooms[chatID] = make(map[*websocket.Conn]bool)
	}
	h.chatRooms[chatID][conn] = true
}

// RemoveChatClient removes a connection from a chat room.
func (h *Hub) RemoveChatClient(chatID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(chatID, conn)
}

func (h *Hub) removeLocked(chatID int, conn *websocket.Conn) {
	if conns, ok := h.chatRooms[chatID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.chatRooms, chatID)
		}
	}
}

// RoomSize reports how many connections joined chatID.
func (h *Hub) RoomSize(chatID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chatRooms[chatID])
}

// Connections reports the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handshakes returns the identity of every accepted connection, oldest first.
func (h *Hub) Handshakes() []ConnInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]ConnInfo(nil), h.handshake...)
}

// Received returns the recorded frames for event, or all of them when event is empty.
func (h *Hub) Received(event string) []Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Frame
	for _, f := range h.received {
		if event == "" || f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// BroadcastChat sends an event to every connection in a chat room.
func (h *Hub) BroadcastChat(chatID int, event string, data any) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.chatRooms[chatID]))
	for conn := range h.chatRooms[chatID] {
		if c, ok := h.clients[conn]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event, data)
}

// Broadcast sends an event to every open connection.
func (h *Hub) Broadcast(event string, data any) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(targets, event, data)
}

// DisconnectAll drops every connection without a close handshake.
func (h *Hub) DisconnectAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) deliver(targets []*client, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}
	payload, _ := json.Marshal(Frame{Event: event, Data: raw})
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.log.Warn().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket write error")
			c.conn.Close()
		}
	}
}

func (h *Hub) register(conn *websocket.Conn, info ConnInfo) *client {
	c := &client{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = c
	h.handshake = append(h.handshake, info)
	return c
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	for chatID := range h.chatRooms {
		h.removeLocked(chatID, conn)
	}
}

func (h *Hub) record(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, f)
}
