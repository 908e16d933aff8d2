package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-client/internal/api"
	"chat-client/internal/logging"
	"chat-client/internal/models"
	"chat-client/internal/presence"
	"chat-client/internal/realtime"
	"chat-client/internal/reconcile"
	"chat-client/internal/telemetry"
)

var (
	ErrNoChat       = errors.New("no chat is open")
	ErrEmptyMessage = errors.New("message is empty")
)

// DefaultTypingIdle is how long after the last keystroke stopped_typing is sent.
const DefaultTypingIdle = 2 * time.Second

const (
	archiveQueueSize = 256
	archiveTimeout   = 5 * time.Second
)

// ChatAPI is the REST surface the chat views need.
type ChatAPI interface {
	Chat(ctx context.Context, chatID int) (models.Chat, error)
	ChatPreviews(ctx context.Context, userID int) ([]models.Chat, error)
}

// Recorder archives confirmed messages.
type Recorder interface {
	Record(ctx context.Context, msg models.Message)
}

type WindowDeps struct {
	Session    *realtime.Session
	Engine     *reconcile.Engine
	Tracker    *presence.Tracker
	API        ChatAPI
	Recorder   Recorder
	Emitter    *telemetry.Emitter
	UserID     int
	TypingIdle time.Duration
	Log        zerolog.Logger
}

// Window is the open conversation: it routes socket events into the engine and
// tracker and turns user actions into socket events.
type Window struct {
	session  *realtime.Session
	engine   *reconcile.Engine
	tracker  *presence.Tracker
	api      ChatAPI
	recorder Recorder
	emitter  *telemetry.Emitter
	userID   int
	idle     time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	chatID      int
	info        models.Chat
	typing      bool
	typingTimer *time.Timer
	typingSeq   uint64

	unsubs []func()

	archive chan models.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWindow(deps WindowDeps) *Window {
	idle := deps.TypingIdle
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	w := &Window{
		session:  deps.Session,
		engine:   deps.Engine,
		tracker:  deps.Tracker,
		api:      deps.API,
		recorder: deps.Recorder,
		emitter:  deps.Emitter,
		userID:   deps.UserID,
		idle:     idle,
		log:      logging.Component(deps.Log, "chat_window"),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	if w.recorder != nil {
		w.archive = make(chan models.Message, archiveQueueSize)
		go w.runArchive()
	}
	w.subscribe()
	return w
}

func (w *Window) subscribe() {
	s := w.session
	w.unsubs = append(w.unsubs,
		realtime.On(s, models.EventNewMessage, w.handleIncoming),
		realtime.On(s, models.EventUploadSuccess, func(ev models.UploadSuccess) {
			msg := ev.Message
			if msg.TempID == "" {
				msg.TempID = ev.TempID
			}
			w.handleIncoming(msg)
		}),
		realtime.On(s, models.EventUploadProgress, func(ev models.UploadProgress) {
			w.engine.ApplyUploadProgress(ev.TempID, ev.Progress)
		}),
		realtime.On(s, models.EventMessageStatusUpdate, func(ev models.StatusUpdate) {
			w.engine.ApplyStatus(ev.MessageID, ev.Status)
		}),
		realtime.On(s, models.EventUserTyping, func(ev models.UserTypingEvent) {
			w.tracker.RecordTyping(ev.UserID, ev.UserName)
		}),
		realtime.On(s, models.EventUserStoppedTyping, func(ev models.UserTypingEvent) {
			w.tracker.RecordStoppedTyping(ev.UserID)
		}),
		realtime.On(s, models.EventUserOnline, func(ev models.UserOnlineEvent) {
			w.tracker.RecordOnline(ev.UserID)
		}),
		realtime.On(s, models.EventUserOffline, func(ev models.UserOnlineEvent) {
			w.tracker.RecordOffline(ev.UserID, ev.LastSeen)
		}),
		realtime.On(s, models.EventUserOnlineStatus, func(ev models.UserStatusEvent) {
			w.tracker.RecordStatus(ev.UserID, ev.IsOnline, ev.LastSeen)
		}),
		s.OnConnected(func() {
			if chatID := w.ChatID(); chatID != 0 {
				s.JoinChatRoom(chatID)
			}
		}),
		w.engine.OnFailure(func(msg models.Message) {
			w.emitter.Emit(context.Background(), telemetry.EventMessageSendFailed, w.userID, map[string]any{
				"chat_id": msg.ChatID,
				"temp_id": msg.TempID,
			})
		}),
	)
}

// handleIncoming runs on the socket read loop, so archiving is queued rather
// than done inline.
func (w *Window) handleIncoming(msg models.Message) {
	outcome := w.engine.ApplyIncoming(msg)
	if w.archive == nil || msg.ID == 0 || outcome == reconcile.Ignored || outcome == reconcile.Duplicate {
		return
	}
	select {
	case w.archive <- msg:
	case <-w.ctx.Done():
	default:
		w.log.Warn().Int(logging.FieldMessageID, msg.ID).Msg("archive queue full, message not archived")
	}
}

func (w *Window) runArchive() {
	for {
		select {
		case msg := <-w.archive:
			ctx, cancel := context.WithTimeout(w.ctx, archiveTimeout)
			w.recorder.Record(ctx, msg)
			cancel()
		case <-w.ctx.Done():
			return
		}
	}
}

// Open switches the window to chatID and loads its history.
func (w *Window) Open(ctx context.Context, chatID int) error {
	w.mu.Lock()
	prev := w.chatID
	w.mu.Unlock()
	if prev != 0 && prev != chatID {
		w.stopTyping()
		w.session.LeaveChatRoom(prev)
	}

	w.mu.Lock()
	w.chatID = chatID
	w.info = models.Chat{ID: chatID}
	w.mu.Unlock()
	w.tracker.ResetTyping()
	w.session.JoinChatRoom(chatID)

	log := w.log.With().Int(logging.FieldChatID, chatID).Logger()
	info, err := w.api.Chat(ctx, chatID)
	switch {
	case err == nil:
		w.mu.Lock()
		if w.chatID == chatID {
			w.info = info
		}
		w.mu.Unlock()
		w.seedPresence(info)
	case api.IsAuthError(err):
		return err
	default:
		log.Warn().Err(err).Msg("chat info unavailable")
	}

	if _, err := w.engine.LoadSnapshot(ctx, chatID); err != nil {
		if !errors.Is(err, reconcile.ErrStaleSnapshot) {
			log.Error().Err(err).Msg("load messages failed")
		}
		return err
	}
	return nil
}

func (w *Window) seedPresence(info models.Chat) {
	for _, m := range info.Members {
		if m.UserID == w.userID {
			continue
		}
		online, lastSeen := m.IsOnline, m.LastSeen
		if m.User != nil {
			online = online || m.User.IsOnline
			if lastSeen == nil {
				lastSeen = m.User.LastSeen
			}
		}
		w.tracker.RecordStatus(m.UserID, online, lastSeen)
	}
}

// Send submits a text message optimistically and publishes it.
func (w *Window) Send(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return w.submit(models.Draft{Text: text, Type: "text"})
}

// SendFile submits a file message with an optional caption.
func (w *Window) SendFile(att models.Attachment, caption string) (string, error) {
	return w.submit(models.Draft{Text: strings.TrimSpace(caption), Type: "file", Attachments: []models.Attachment{att}})
}

func (w *Window) submit(draft models.Draft) (string, error) {
	chatID := w.ChatID()
	if chatID == 0 {
		return "", ErrNoChat
	}
	w.stopTyping()

	draft.ChatID = chatID
	draft.SenderID = w.userID
	tempID := w.engine.SubmitOptimistic(draft)
	w.publishSend(models.Message{
		TempID:      tempID,
		ChatID:      chatID,
		SenderID:    w.userID,
		Text:        draft.Text,
		Type:        draft.Type,
		Attachments: draft.Attachments,
	})
	return tempID, nil
}

func (w *Window) publishSend(msg models.Message) {
	sent := w.session.Publish(models.EventSendMessage, models.SendMessageEvent{
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		Text:        msg.Text,
		Type:        msg.Type,
		Attachments: msg.Attachments,
		TempID:      msg.TempID,
	})
	if !sent {
		w.log.Warn().Str(logging.FieldTempID, msg.TempID).Msg("socket offline, message left pending")
	}
}

// Resend publishes a failed message again under its original temp id.
func (w *Window) Resend(tempID string) error {
	msg, err := w.engine.Retry(tempID)
	if err != nil {
		return err
	}
	w.publishSend(msg)
	return nil
}

// Discard drops a failed message.
func (w *Window) Discard(tempID string) error {
	return w.engine.Discard(tempID)
}

// Typed signals local typing activity. stopped_typing follows after the idle period.
func (w *Window) Typed() {
	chatID := w.ChatID()
	if chatID == 0 || !w.session.IsConnected() {
		return
	}

	w.mu.Lock()
	start := !w.typing
	w.typing = true
	w.typingSeq++
	seq := w.typingSeq
	if w.typingTimer != nil {
		w.typingTimer.Stop()
	}
	w.typingTimer = time.AfterFunc(w.idle, func() { w.expireTyping(seq) })
	w.mu.Unlock()

	if start {
		w.session.Publish(models.EventTyping, models.TypingEvent{ChatID: chatID, UserID: w.userID})
	}
}

func (w *Window) expireTyping(seq uint64) {
	w.mu.Lock()
	current := w.typingSeq == seq
	w.mu.Unlock()
	if current {
		w.stopTyping()
	}
}

func (w *Window) stopTyping() {
	w.mu.Lock()
	if !w.typing {
		w.mu.Unlock()
		return
	}
	w.typing = false
	w.typingSeq++
	if w.typingTimer != nil {
		w.typingTimer.Stop()
		w.typingTimer = nil
	}
	chatID := w.chatID
	w.mu.Unlock()

	w.session.Publish(models.EventStoppedTyping, models.TypingEvent{ChatID: chatID, UserID: w.userID})
}

// MarkRead tells the server the user has seen messageID.
func (w *Window) MarkRead(messageID int) bool {
	return w.session.Publish(models.EventMarkRead, models.MarkReadEvent{MessageID: messageID, UserID: w.userID})
}

func (w *Window) ChatID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chatID
}

// Title is the display name of the open chat.
func (w *Window) Title() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.DisplayName(w.userID)
}

// Peer returns the other participant of a private chat.
func (w *Window) Peer() (models.Member, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.info.Type != models.ChatPrivate {
		return models.Member{}, false
	}
	return w.info.OtherMember(w.userID)
}

func (w *Window) Messages() []models.Message {
	return w.engine.Messages()
}

func (w *Window) Typing() []models.TypingUser {
	return w.tracker.Typing()
}

// Close leaves the room and detaches every handler.
func (w *Window) Close() {
	w.cancel()
	w.stopTyping()
	if chatID := w.ChatID(); chatID != 0 {
		w.session.LeaveChatRoom(chatID)
	}
	for _, unsubscribe := range w.unsubs {
		unsubscribe()
	}
	w.unsubs = nil
}
