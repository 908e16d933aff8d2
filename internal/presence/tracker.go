package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-client/internal/logging"
	"chat-client/internal/models"
)

// DefaultTypingTimeout is how long a typing indicator survives without a refresh.
const DefaultTypingTimeout = 2 * time.Second

type typingEntry struct {
	user  models.TypingUser
	timer *time.Timer
	seq   uint64
}

// Tracker holds who is typing in the open chat and the last known online state
// of users.
type Tracker struct {
	selfID  int
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu       sync.Mutex
	typing   []*typingEntry
	seq      uint64
	presence map[int]models.Presence

	obsMu    sync.RWMutex
	onChange map[*func()]struct{}
}

// NewTracker constructs a Tracker that never reports selfID as typing.
func NewTracker(selfID int, timeout time.Duration, log zerolog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Tracker{
		selfID:   selfID,
		timeout:  timeout,
		now:      time.Now,
		log:      logging.Component(log, "presence"),
		presence: make(map[int]models.Presence),
		onChange: make(map[*func()]struct{}),
	}
}

// RecordTyping marks userID as typing and restarts its inactivity timer.
func (t *Tracker) RecordTyping(userID int, userName string) {
	if userID == t.selfID {
		return
	}

	t.mu.Lock()
	t.seq++
	seq := t.seq
	timer := time.AfterFunc(t.timeout, func() { t.expire(userID, seq) })
	if entry := t.findLocked(userID); entry != nil {
		entry.timer.Stop()
		entry.timer = timer
		entry.seq = seq
		if userName != "" {
			entry.user.UserName = userName
		}
		t.mu.Unlock()
		return
	}
	t.typing = append(t.typing, &typingEntry{
		user:  models.TypingUser{UserID: userID, UserName: userName},
		timer: timer,
		seq:   seq,
	})
	t.mu.Unlock()

	t.log.Debug().Int(logging.FieldUserID, userID).Msg("user started typing")
	t.notify()
}

// RecordStoppedTyping removes userID from the typing set.
func (t *Tracker) RecordStoppedTyping(userID int) {
	t.mu.Lock()
	removed := t.removeLocked(userID, 0)
	t.mu.Unlock()
	if removed {
		t.notify()
	}
}

func (t *Tracker) expire(userID int, seq uint64) {
	t.mu.Lock()
	removed := t.removeLocked(userID, seq)
	t.mu.Unlock()
	if removed {
		t.log.Debug().Int(logging.FieldUserID, userID).Msg("typing indicator expired")
		t.notify()
	}
}

// removeLocked drops the entry for userID. A non-zero seq only matches the
// timer generation that armed it.
func (t *Tracker) removeLocked(userID int, seq uint64) bool {
	for i, entry := range t.typing {
		if entry.user.UserID != userID {
			continue
		}
		if seq != 0 && entry.seq != seq {
			return false
		}
		entry.timer.Stop()
		t.typing = append(t.typing[:i], t.typing[i+1:]...)
		return true
	}
	return false
}

func (t *Tracker) findLocked(userID int) *typingEntry {
	for _, entry := range t.typing {
		if entry.user.UserID == userID {
			return entry
		}
	}
	return nil
}

// ResetTyping clears every typing indicator.
func (t *Tracker) ResetTyping() {
	t.mu.Lock()
	had := len(t.typing) > 0
	for _, entry := range t.typing {
		entry.timer.Stop()
	}
	t.typing = nil
	t.mu.Unlock()
	if had {
		t.notify()
	}
}

// Typing returns the users currently typing in first-typed order.
func (t *Tracker) Typing() []models.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TypingUser, 0, len(t.typing))
	for _, entry := range t.typing {
		out = append(out, entry.user)
	}
	return out
}

// RecordOnline marks userID online. The last event received wins.
func (t *Tracker) RecordOnline(userID int) {
	t.RecordStatus(userID, true, nil)
}

// RecordOffline marks userID offline as of lastSeen, or now when lastSeen is nil.
func (t *Tracker) RecordOffline(userID int, lastSeen *time.Time) {
	if lastSeen == nil {
		now := t.now()
		lastSeen = &now
	}
	t.RecordStatus(userID, false, lastSeen)
}

// RecordStatus stores a presence event. An online user has no last-seen time;
// an offline event without one keeps the previous value.
func (t *Tracker) RecordStatus(userID int, isOnline bool, lastSeen *time.Time) {
	t.mu.Lock()
	p := t.presence[userID]
	p.UserID = userID
	p.IsOnline = isOnline
	switch {
	case isOnline:
		p.LastSeenAt = nil
	case lastSeen != nil:
		seen := *lastSeen
		p.LastSeenAt = &seen
	}
	t.presence[userID] = p
	t.mu.Unlock()
	t.notify()
}

// Presence returns the last known record for userID.
func (t *Tracker) Presence(userID int) (models.Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.presence[userID]
	return p, ok
}

// OnChange registers fn to run after typing or presence changes.
func (t *Tracker) OnChange(fn func()) func() {
	key := &fn
	t.obsMu.Lock()
	t.onChange[key] = struct{}{}
	t.obsMu.Unlock()
	return func() {
		t.obsMu.Lock()
		delete(t.onChange, key)
		t.obsMu.Unlock()
	}
}

// Close stops all typing timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.typing {
		entry.timer.Stop()
	}
	t.typing = nil
}

func (t *Tracker) notify() {
	t.obsMu.RLock()
	fns := make([]func(), 0, len(t.onChange))
	for fn := range t.onChange {
		fns = append(fns, *fn)
	}
	t.obsMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
