package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/config"
	"chat-client/internal/mocks"
	"chat-client/internal/models"
	"chat-client/internal/presence"
	"chat-client/internal/realtime"
	"chat-client/internal/reconcile"
	"chat-client/internal/telemetry"
	"chat-client/internal/wstest"
)

const selfID = 1

type staticToken string

func (s staticToken) AccessToken(ctx context.Context) (string, error) { return string(s), nil }

type recorderFake struct {
	mu    sync.Mutex
	msgs  []models.Message
	block chan struct{}
}

func (r *recorderFake) Record(ctx context.Context, msg models.Message) {
	r.mu.Lock()
	block := r.block
	r.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// hold makes Record wait until the returned func is called.
func (r *recorderFake) hold() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.block = ch
	return func() { close(ch) }
}

func (r *recorderFake) recorded() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.msgs...)
}

type harness struct {
	hub       *wstest.Hub
	session   *realtime.Session
	engine    *reconcile.Engine
	tracker   *presence.Tracker
	api       *mocks.ChatAPIMock
	fetcher   *mocks.FetcherMock
	recorder  *recorderFake
	publisher *mocks.PublisherMock
	window    *Window
}

type harnessOptions struct {
	staleAfter time.Duration
	typingIdle time.Duration
	offline    bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.staleAfter == 0 {
		opts.staleAfter = time.Minute
	}
	if opts.typingIdle == 0 {
		opts.typingIdle = time.Minute
	}

	h := &harness{
		hub:       wstest.NewHub(),
		api:       new(mocks.ChatAPIMock),
		fetcher:   new(mocks.FetcherMock),
		recorder:  &recorderFake{},
		publisher: new(mocks.PublisherMock),
	}
	srv := httptest.NewServer(h.hub)
	t.Cleanup(srv.Close)

	h.session = realtime.New(config.SocketConfig{
		URL:                  "ws" + strings.TrimPrefix(srv.URL, "http"),
		MaxReconnectAttempts: 5,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectDelay:    20 * time.Millisecond,
	}, staticToken("token"), nil, zerolog.Nop())
	t.Cleanup(h.session.Close)

	h.engine = reconcile.NewEngine(h.fetcher, opts.staleAfter, zerolog.Nop())
	t.Cleanup(h.engine.Close)
	h.tracker = presence.NewTracker(selfID, 2*time.Second, zerolog.Nop())
	t.Cleanup(h.tracker.Close)

	h.window = NewWindow(WindowDeps{
		Session:    h.session,
		Engine:     h.engine,
		Tracker:    h.tracker,
		API:        h.api,
		Recorder:   h.recorder,
		Emitter:    telemetry.NewEmitter(h.publisher, "client_events", "chat-client", "test", zerolog.Nop()),
		UserID:     selfID,
		TypingIdle: opts.typingIdle,
		Log:        zerolog.Nop(),
	})
	t.Cleanup(h.window.Close)

	if !opts.offline {
		h.session.Connect(selfID)
		require.Eventually(t, h.session.IsConnected, 2*time.Second, 5*time.Millisecond)
	}
	return h
}

func (h *harness) expectChat(chatID int, info models.Chat, history []models.Message) {
	h.api.On("Chat", mock.Anything, chatID).Return(info, nil).Once()
	h.fetcher.On("ChatMessages", mock.Anything, chatID).Return(history, nil).Once()
}

func (h *harness) open(t *testing.T, chatID int) {
	t.Helper()
	require.NoError(t, h.window.Open(context.Background(), chatID))
	require.Eventually(t, func() bool { return h.hub.RoomSize(chatID) == 1 }, time.Second, 5*time.Millisecond)
}

func privateChat(chatID int) models.Chat {
	return models.Chat{
		ID:   chatID,
		Type: models.ChatPrivate,
		Members: []models.Member{
			{UserID: selfID, User: &models.User{ID: selfID, Username: "me"}},
			{UserID: 2, IsOnline: true, User: &models.User{ID: 2, Username: "bob", FullName: "Bob Stone"}},
		},
	}
}

func history(chatID int, ids ...int) []models.Message {
	base := time.Now().Add(-time.Hour)
	out := make([]models.Message, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.Message{ID: id, ChatID: chatID, SenderID: 2, Text: "old", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	return out
}

func decode[T any](t *testing.T, f wstest.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestSendAndEchoEndToEnd(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), history(100, 1, 2))
	h.open(t, 100)

	assert.Equal(t, "Bob Stone", h.window.Title())
	peer, ok := h.window.Peer()
	require.True(t, ok)
	assert.Equal(t, 2, peer.UserID)
	p, ok := h.tracker.Presence(2)
	require.True(t, ok)
	assert.True(t, p.IsOnline)

	tempID, err := h.window.Send("  hello ")
	require.NoError(t, err)
	msgs := h.window.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[2].IsOptimistic)
	assert.Equal(t, tempID, msgs[2].TempID)

	require.Eventually(t, func() bool { return len(h.hub.Received(models.EventSendMessage)) == 1 }, time.Second, 5*time.Millisecond)
	sent := decode[models.SendMessageEvent](t, h.hub.Received(models.EventSendMessage)[0])
	assert.Equal(t, models.SendMessageEvent{ChatID: 100, SenderID: selfID, Text: "hello", Type: "text", TempID: tempID}, sent)

	h.hub.BroadcastChat(100, models.EventNewMessage, models.Message{
		ID: 3, TempID: tempID, ChatID: 100, SenderID: selfID, Text: "hello", CreatedAt: time.Now(),
	})

	require.Eventually(t, func() bool {
		msgs := h.window.Messages()
		return len(msgs) == 3 && msgs[2].ID == 3 && !msgs[2].IsOptimistic
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.recorder.recorded()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.recorder.recorded()[0].ID)
	h.api.AssertExpectations(t)
	h.fetcher.AssertExpectations(t)
}

func TestEchoFromServerConfirmsSend(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.hub.EchoMessages = true
	h.hub.StartMessageIDs(3)
	h.expectChat(100, privateChat(100), history(100, 1, 2))
	h.open(t, 100)

	_, err := h.window.Send("hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := h.window.Messages()
		return len(msgs) == 3 && msgs[2].ID == 3 && !msgs[2].IsOptimistic
	}, time.Second, 5*time.Millisecond)
}

func TestSlowArchiveDoesNotStallSocketEvents(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	release := h.recorder.hold()
	h.expectChat(100, privateChat(100), history(100, 1))
	h.open(t, 100)

	h.hub.BroadcastChat(100, models.EventNewMessage, models.Message{ID: 2, ChatID: 100, SenderID: 2, Text: "a", CreatedAt: time.Now()})
	h.hub.BroadcastChat(100, models.EventNewMessage, models.Message{ID: 3, ChatID: 100, SenderID: 2, Text: "b", CreatedAt: time.Now()})
	h.hub.BroadcastChat(100, models.EventUserTyping, models.UserTypingEvent{UserID: 2, UserName: "Bob"})

	require.Eventually(t, func() bool {
		return len(h.window.Messages()) == 3 && len(h.window.Typing()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.recorder.recorded())

	release()
	require.Eventually(t, func() bool { return len(h.recorder.recorded()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.recorder.recorded()[0].ID)
	assert.Equal(t, 3, h.recorder.recorded()[1].ID)
}

func TestOpenAnotherChatLeavesPreviousRoom(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), nil)
	h.expectChat(200, models.Chat{ID: 200, Type: models.ChatGroup, Name: "Team"}, history(200, 9))
	h.open(t, 100)

	h.tracker.RecordTyping(2, "bob")
	h.open(t, 200)

	require.Eventually(t, func() bool { return h.hub.RoomSize(100) == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.hub.Received(models.EventLeaveChat), 1)
	assert.Equal(t, "Team", h.window.Title())
	assert.Empty(t, h.window.Typing())
	require.Len(t, h.window.Messages(), 1)
	assert.Equal(t, 9, h.window.Messages()[0].ID)
	_, ok := h.window.Peer()
	assert.False(t, ok)
}

func TestOpenContinuesWithoutChatInfo(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.api.On("Chat", mock.Anything, 100).Return(nil, assert.AnError).Once()
	h.fetcher.On("ChatMessages", mock.Anything, 100).Return(history(100, 1), nil).Once()

	require.NoError(t, h.window.Open(context.Background(), 100))
	assert.Len(t, h.window.Messages(), 1)
	assert.Equal(t, "", h.window.Title())
}

func TestReconnectRejoinsOpenRoom(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), nil)
	h.open(t, 100)

	h.hub.DisconnectAll()

	require.Eventually(t, func() bool {
		return len(h.hub.Received(models.EventJoinChat)) == 2 && h.hub.RoomSize(100) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInboundTypingAndPresenceReachTracker(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), nil)
	h.open(t, 100)

	h.hub.BroadcastChat(100, models.EventUserTyping, models.UserTypingEvent{UserID: selfID, UserName: "me"})
	h.hub.BroadcastChat(100, models.EventUserTyping, models.UserTypingEvent{UserID: 2, UserName: "Bob"})
	require.Eventually(t, func() bool { return len(h.window.Typing()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.TypingUser{UserID: 2, UserName: "Bob"}, h.window.Typing()[0])

	h.hub.BroadcastChat(100, models.EventUserStoppedTyping, models.UserTypingEvent{UserID: 2})
	require.Eventually(t, func() bool { return len(h.window.Typing()) == 0 }, time.Second, 5*time.Millisecond)

	lastSeen := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	h.hub.Broadcast(models.EventUserOffline, models.UserOnlineEvent{UserID: 2, LastSeen: &lastSeen})
	require.Eventually(t, func() bool {
		p, _ := h.tracker.Presence(2)
		return !p.IsOnline && p.LastSeenAt != nil && p.LastSeenAt.Equal(lastSeen)
	}, time.Second, 5*time.Millisecond)

	h.hub.Broadcast(models.EventUserOnlineStatus, models.UserStatusEvent{UserID: 2, IsOnline: true})
	require.Eventually(t, func() bool {
		p, _ := h.tracker.Presence(2)
		return p.IsOnline
	}, time.Second, 5*time.Millisecond)
}

func TestTypedSendsTypingThenStoppedAfterIdle(t *testing.T) {
	h := newHarness(t, harnessOptions{typingIdle: 50 * time.Millisecond})
	h.expectChat(100, privateChat(100), nil)
	h.open(t, 100)

	h.window.Typed()
	h.window.Typed()
	h.window.Typed()

	require.Eventually(t, func() bool { return len(h.hub.Received(models.EventStoppedTyping)) == 1 }, time.Second, 5*time.Millisecond)
	typing := h.hub.Received(models.EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, models.TypingEvent{ChatID: 100, UserID: selfID}, decode[models.TypingEvent](t, typing[0]))
}

func TestSendStopsTypingFirst(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), nil)
	h.open(t, 100)

	h.window.Typed()
	_, err := h.window.Send("done")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.hub.Received(models.EventSendMessage)) == 1 }, time.Second, 5*time.Millisecond)
	frames := h.hub.Received("")
	var order []string
	for _, f := range frames {
		if f.Event != models.EventJoinChat {
			order = append(order, f.Event)
		}
	}
	assert.Equal(t, []string{models.EventTyping, models.EventStoppedTyping, models.EventSendMessage}, order)
}

func TestTypedWhileOfflineSendsNothing(t *testing.T) {
	h := newHarness(t, harnessOptions{offline: true})
	h.expectChat(100, privateChat(100), nil)
	require.NoError(t, h.window.Open(context.Background(), 100))

	h.window.Typed()
	tempID, err := h.window.Send("queued nowhere")
	require.NoError(t, err)

	assert.Equal(t, 0, h.hub.Connections())
	msgs := h.window.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, tempID, msgs[0].TempID)
	assert.Equal(t, models.StatusSending, msgs[0].Status)
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{offline: true})

	_, err := h.window.Send("hi")
	assert.ErrorIs(t, err, ErrNoChat)

	h.expectChat(100, privateChat(100), nil)
	require.NoError(t, h.window.Open(context.Background(), 100))
	_, err = h.window.Send("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestFailedMessageCanBeResent(t *testing.T) {
	h := newHarness(t, harnessOptions{staleAfter: 30 * time.Millisecond})
	reported := make(chan struct{})
	var once sync.Once
	h.publisher.On("Publish", mock.Anything, "client_events."+telemetry.EventMessageSendFailed, mock.Anything).
		Run(func(mock.Arguments) { once.Do(func() { close(reported) }) }).
		Return(nil)
	h.expectChat(100, privateChat(100), nil)
	h.open(t, 100)

	tempID, err := h.window.Send("retry me")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := h.window.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.StatusFailed
	}, time.Second, 5*time.Millisecond)
	select {
	case <-reported:
	case <-time.After(time.Second):
		t.Fatal("message_send_failed was not emitted")
	}
	envelopes := h.publisher.Envelopes()
	require.Len(t, envelopes, 1)
	assert.Equal(t, telemetry.EventMessageSendFailed, envelopes[0].EventType)
	assert.Equal(t, tempID, envelopes[0].Payload["temp_id"])

	require.NoError(t, h.window.Resend(tempID))
	assert.Equal(t, models.StatusSending, h.window.Messages()[0].Status)
	require.Eventually(t, func() bool { return len(h.hub.Received(models.EventSendMessage)) == 2 }, time.Second, 5*time.Millisecond)
	for _, f := range h.hub.Received(models.EventSendMessage) {
		assert.Equal(t, tempID, decode[models.SendMessageEvent](t, f).TempID)
	}

	require.NoError(t, h.window.Discard(tempID))
	assert.Empty(t, h.window.Messages())
	assert.ErrorIs(t, h.window.Resend(tempID), reconcile.ErrUnknownTempID)
}

func TestStatusAndUploadEvents(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), history(100, 1))
	h.open(t, 100)

	h.hub.BroadcastChat(100, models.EventMessageStatusUpdate, models.StatusUpdate{MessageID: 1, Status: models.StatusRead})
	require.Eventually(t, func() bool { return h.window.Messages()[0].Status == models.StatusRead }, time.Second, 5*time.Millisecond)

	tempID, err := h.window.SendFile(models.Attachment{URL: "https://files/a.pdf", Name: "a.pdf", Size: 2048}, "")
	require.NoError(t, err)

	h.hub.BroadcastChat(100, models.EventUploadProgress, models.UploadProgress{TempID: tempID, Progress: 60})
	require.Eventually(t, func() bool {
		msgs := h.window.Messages()
		return len(msgs) == 2 && msgs[1].UploadProgress == 60
	}, time.Second, 5*time.Millisecond)

	h.hub.BroadcastChat(100, models.EventUploadSuccess, models.UploadSuccess{
		TempID:  tempID,
		Message: models.Message{ID: 2, ChatID: 100, SenderID: selfID, Type: "file", CreatedAt: time.Now()},
	})
	require.Eventually(t, func() bool {
		msgs := h.window.Messages()
		return len(msgs) == 2 && msgs[1].ID == 2 && !msgs[1].IsOptimistic
	}, time.Second, 5*time.Millisecond)
}

func TestMarkReadPublishes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), history(100, 1))
	h.open(t, 100)

	require.True(t, h.window.MarkRead(1))
	require.Eventually(t, func() bool { return len(h.hub.Received(models.EventMarkRead)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.MarkReadEvent{MessageID: 1, UserID: selfID}, decode[models.MarkReadEvent](t, h.hub.Received(models.EventMarkRead)[0]))
}

func TestCloseLeavesRoomAndDetaches(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.expectChat(100, privateChat(100), nil)
	h.open(t, 100)

	h.window.Close()
	require.Eventually(t, func() bool { return h.hub.RoomSize(100) == 0 }, time.Second, 5*time.Millisecond)

	h.hub.Broadcast(models.EventUserTyping, models.UserTypingEvent{UserID: 2})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.tracker.Typing())
}
