package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-client/internal/config"
	"chat-client/internal/logging"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

// TokenSource supplies the access token presented at handshake time.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// link is one established socket and its writer.
type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) stop() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Session owns a single authenticated socket to the messaging server and
// reconnects it with bounded exponential backoff.
type Session struct {
	cfg     config.SocketConfig
	tokens  TokenSource
	emitter *telemetry.Emitter
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu       sync.Mutex
	state    State
	userID   int
	gen      uint64
	cancel   context.CancelFunc
	link     *link
	attempts int

	events    *registry
	obsMu     sync.RWMutex
	onState   map[*func(State)]struct{}
	onConnect map[*func()]struct{}
}

// New constructs a disconnected Session.
func New(cfg config.SocketConfig, tokens TokenSource, emitter *telemetry.Emitter, log zerolog.Logger) *Session {
	cfg = withDefaults(cfg)
	return &Session{
		cfg:     cfg,
		tokens:  tokens,
		emitter: emitter,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log:       logging.Component(log, "realtime"),
		state:     StateDisconnected,
		events:    newRegistry(),
		onState:   make(map[*func(State)]struct{}),
		onConnect: make(map[*func()]struct{}),
	}
}

func withDefaults(cfg config.SocketConfig) config.SocketConfig {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	return cfg
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// UserID returns the user the session last connected as.
func (s *Session) UserID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Connect opens the socket for userID. It is a no-op while a connection is
// established or being attempted.
func (s *Session) Connect(userID int) {
	s.mu.Lock()
	if s.state.active() {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	ctx, gen := s.startLocked()
	s.mu.Unlock()
	s.notifyState(StateConnecting)
	go s.run(ctx, gen)
}

// Retry restarts connecting after the reconnect budget was exhausted.
func (s *Session) Retry() {
	s.mu.Lock()
	if s.state != StateFailed {
		s.mu.Unlock()
		return
	}
	ctx, gen := s.startLocked()
	s.mu.Unlock()
	s.notifyState(StateConnecting)
	go s.run(ctx, gen)
}

func (s *Session) startLocked() (context.Context, uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.cancel = cancel
	s.attempts = 0
	s.state = StateConnecting
	observability.SetWSState(string(StateConnecting))
	return ctx, s.gen
}

// Close stops reconnecting and closes the socket.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	l := s.link
	s.link = nil
	changed := s.state != StateDisconnected
	s.state = StateDisconnected
	s.mu.Unlock()

	if l != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.cfg.WriteWait))
		l.stop()
	}
	if changed {
		observability.SetWSState(string(StateDisconnected))
		s.notifyState(StateDisconnected)
	}
}

// setState applies st only when gen still owns the session.
func (s *Session) setState(gen uint64, st State) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed {
		observability.SetWSState(string(st))
		s.notifyState(st)
	}
	return true
}

func (s *Session) run(ctx context.Context, gen uint64) {
	log := s.log.With().Uint64("generation", gen).Logger()
	for {
		conn, err := s.dial(ctx)
		if err == nil {
			s.serve(ctx, gen, conn)
		} else {
			log.Warn().Err(err).Msg("websocket connect failed")
			observability.IncWSEvent("in", "connect_error")
		}
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.attempts++
		attempt := s.attempts
		userID := s.userID
		s.mu.Unlock()

		if attempt > s.cfg.MaxReconnectAttempts {
			if s.setState(gen, StateFailed) {
				log.Error().Int(logging.FieldAttempt, attempt-1).Msg("websocket reconnect attempts exhausted")
				s.emitter.Emit(ctx, telemetry.EventWSReconnectExhausted, userID, map[string]any{
					"attempts": attempt - 1,
				})
			}
			return
		}
		if !s.setState(gen, StateReconnecting) {
			return
		}
		observability.IncWSReconnectAttempt()

		delay := backoffDelay(attempt, s.cfg.ReconnectDelay, s.cfg.MaxReconnectDelay)
		log.Info().Int(logging.FieldAttempt, attempt).Dur("delay", delay).Msg("websocket reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	userID := s.UserID()

	target, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, err
	}
	query := target.Query()
	query.Set("token", token)
	query.Set("userId", strconv.Itoa(userID))
	target.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-User-ID", strconv.Itoa(userID))

	conn, resp, err := s.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &handshakeError{status: resp.StatusCode, err: err}
		}
		return nil, err
	}
	return conn, nil
}

type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return "websocket handshake rejected with status " + strconv.Itoa(e.status) + ": " + e.err.Error()
}

func (e *handshakeError) Unwrap() error { return e.err }

// serve runs one connection until it drops or the session is closed.
func (s *Session) serve(ctx context.Context, gen uint64, conn *websocket.Conn) {
	l := &link{conn: conn, send: make(chan []byte, 256), done: make(chan struct{})}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.link = l
	s.attempts = 0
	userID := s.userID
	s.mu.Unlock()

	connectedAt := time.Now()
	s.setState(gen, StateConnected)
	s.log.Info().Int(logging.FieldUserID, userID).Msg("websocket connected")
	observability.IncWSEvent("in", "connect")
	s.emitter.Emit(ctx, telemetry.EventWSConnect, userID, map[string]any{"url": s.cfg.URL})

	go s.writePump(l)
	s.notifyConnected()
	reason := s.readPump(l)

	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
	l.stop()

	if ctx.Err() != nil {
		return
	}
	s.log.Warn().Str("reason", reason).Msg("websocket disconnected")
	observability.IncWSEvent("in", "disconnect")
	s.emitter.Emit(ctx, telemetry.EventWSDisconnect, userID, map[string]any{
		"reason":      reason,
		"duration_ms": time.Since(connectedAt).Milliseconds(),
	})
}

func (s *Session) readPump(l *link) string {
	l.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = l.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("websocket read error")
			}
			return err.Error()
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			s.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		observability.IncWSEvent("in", f.Event)
		s.dispatch(f)
	}
}

func (s *Session) writePump(l *link) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		l.stop()
	}()

	for {
		select {
		case <-l.done:
			return
		case payload := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug().Err(err).Msg("websocket write error")
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) dispatch(f Frame) {
	for _, l := range s.events.snapshot(f.Event) {
		l.fn(f.Data)
	}
}

// Publish sends event with payload. It reports false, and drops the frame, when
// the socket is not connected.
func (s *Session) Publish(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str(logging.FieldEvent, event).Msg("encode outbound event")
		return false
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return false
	}

	s.mu.Lock()
	l := s.link
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || l == nil {
		observability.IncWSDropped(event)
		s.log.Debug().Str(logging.FieldEvent, event).Msg("socket not connected, dropping event")
		return false
	}

	select {
	case l.send <- frame:
		observability.IncWSEvent("out", event)
		return true
	case <-l.done:
	default:
	}
	observability.IncWSDropped(event)
	return false
}

// JoinChatRoom subscribes the connection to a chat's broadcasts.
func (s *Session) JoinChatRoom(chatID int) bool {
	return s.Publish(models.EventJoinChat, models.RoomEvent{ChatID: chatID})
}

func (s *Session) LeaveChatRoom(chatID int) bool {
	return s.Publish(models.EventLeaveChat, models.RoomEvent{ChatID: chatID})
}

// Subscribe registers fn for event. The returned func removes exactly this
// registration.
func (s *Session) Subscribe(event string, fn Handler) func() {
	return s.events.add(event, fn)
}

// OnConnected runs fn after every successful (re)connect.
func (s *Session) OnConnected(fn func()) func() {
	key := &fn
	s.obsMu.Lock()
	s.onConnect[key] = struct{}{}
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.onConnect, key)
		s.obsMu.Unlock()
	}
}

// OnStateChange runs fn on every state transition.
func (s *Session) OnStateChange(fn func(State)) func() {
	key := &fn
	s.obsMu.Lock()
	s.onState[key] = struct{}{}
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.onState, key)
		s.obsMu.Unlock()
	}
}

func (s *Session) notifyState(st State) {
	s.obsMu.RLock()
	fns := make([]func(State), 0, len(s.onState))
	for fn := range s.onState {
		fns = append(fns, *fn)
	}
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *Session) notifyConnected() {
	s.obsMu.RLock()
	fns := make([]func(), 0, len(s.onConnect))
	for fn := range s.onConnect {
		fns = append(fns, *fn)
	}
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
