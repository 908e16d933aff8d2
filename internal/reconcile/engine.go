package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-client/internal/logging"
	"chat-client/internal/models"
	"chat-client/internal/observability"
)

var (
	// ErrStaleSnapshot is returned when a newer LoadSnapshot superseded the call.
	ErrStaleSnapshot = errors.New("snapshot superseded by a newer chat load")
	ErrUnknownTempID = errors.New("no optimistic message with that temp id")
)

// DefaultStaleAfter is how long an optimistic message may stay unconfirmed.
const DefaultStaleAfter = 15 * time.Second

// Outcome says what ApplyIncoming did with a message.
type Outcome string

const (
	Appended  Outcome = "appended"
	Replaced  Outcome = "replaced"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
)

// Fetcher loads the authoritative history of a chat.
type Fetcher interface {
	ChatMessages(ctx context.Context, chatID int) ([]models.Message, error)
}

type staleTimer struct {
	timer *time.Timer
	seq   uint64
}

// Engine merges the snapshot, optimistic sends and live socket events of the
// active chat into one deduplicated, ordered list.
type Engine struct {
	fetcher    Fetcher
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger

	mu         sync.Mutex
	chatID     int
	gen        uint64
	canonical  []models.Message
	optimistic []models.Message
	timers     map[string]staleTimer
	timerSeq   uint64

	loading     bool
	liveIn      []models.Message
	liveTempIDs map[string]struct{}

	obsMu     sync.RWMutex
	onChange  map[*func()]struct{}
	onFailure map[*func(models.Message)]struct{}
}

// NewEngine constructs an Engine with no active chat.
func NewEngine(fetcher Fetcher, staleAfter time.Duration, log zerolog.Logger) *Engine {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Engine{
		fetcher:    fetcher,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        logging.Component(log, "reconcile"),
		timers:     make(map[string]staleTimer),
		onChange:   make(map[*func()]struct{}),
		onFailure:  make(map[*func(models.Message)]struct{}),
	}
}

// ActiveChat returns the chat the engine currently holds.
func (e *Engine) ActiveChat() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chatID
}

// LoadSnapshot makes chatID active and replaces the held messages with the
// fetched history. Messages that arrived while the fetch was in flight are
// merged back afterwards.
func (e *Engine) LoadSnapshot(ctx context.Context, chatID int) ([]models.Message, error) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	if e.chatID != chatID {
		e.chatID = chatID
		e.canonical = nil
		e.dropOptimisticLocked(nil)
	}
	e.loading = true
	e.liveIn = nil
	e.liveTempIDs = make(map[string]struct{})
	e.mu.Unlock()
	e.notifyChange()

	log := e.log.With().Int(logging.FieldChatID, chatID).Uint64("generation", gen).Logger()
	snapshot, err := e.fetcher.ChatMessages(ctx, chatID)

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		log.Debug().Msg("discarding superseded snapshot")
		return nil, ErrStaleSnapshot
	}
	e.loading = false
	live := e.liveIn
	keep := e.liveTempIDs
	e.liveIn = nil
	e.liveTempIDs = nil
	if err != nil {
		e.mu.Unlock()
		log.Warn().Err(err).Msg("snapshot fetch failed")
		return nil, err
	}

	e.canonical = e.canonical[:0:0]
	for _, msg := range snapshot {
		if msg.ChatID == 0 {
			msg.ChatID = chatID
		}
		if msg.ChatID != chatID || e.indexCanonicalLocked(msg.ID) >= 0 {
			continue
		}
		e.insertCanonicalLocked(msg)
	}
	e.dropOptimisticLocked(keep)
	for _, msg := range live {
		e.applyLocked(msg)
	}
	out := e.messagesLocked()
	e.mu.Unlock()

	log.Debug().Int("messages", len(snapshot)).Int("live", len(live)).Msg("snapshot applied")
	e.notifyChange()
	return out, nil
}

// SubmitOptimistic appends a provisional entry for draft and returns its temp id.
func (e *Engine) SubmitOptimistic(draft models.Draft) string {
	tempID := "temp_" + uuid.NewString()
	msgType := draft.Type
	if msgType == "" {
		msgType = "text"
	}

	e.mu.Lock()
	chatID := draft.ChatID
	if chatID == 0 {
		chatID = e.chatID
	}
	e.optimistic = append(e.optimistic, models.Message{
		TempID:       tempID,
		ChatID:       chatID,
		SenderID:     draft.SenderID,
		Text:         draft.Text,
		Type:         msgType,
		Attachments:  draft.Attachments,
		CreatedAt:    e.now(),
		Status:       models.StatusSending,
		IsOptimistic: true,
	})
	if e.loading {
		e.liveTempIDs[tempID] = struct{}{}
	}
	e.armLocked(tempID)
	e.mu.Unlock()

	e.log.Debug().Str(logging.FieldTempID, tempID).Int(logging.FieldChatID, chatID).Msg("optimistic message submitted")
	e.notifyChange()
	return tempID
}

// ApplyIncoming merges a server-confirmed message.
func (e *Engine) ApplyIncoming(msg models.Message) Outcome {
	e.mu.Lock()
	outcome := e.applyLocked(msg)
	if e.loading && outcome != Ignored {
		e.liveIn = append(e.liveIn, msg)
	}
	e.mu.Unlock()

	observability.IncReconcileOutcome(string(outcome))
	e.log.Debug().
		Int(logging.FieldMessageID, msg.ID).
		Str(logging.FieldTempID, msg.TempID).
		Str("outcome", string(outcome)).
		Msg("incoming message applied")
	if outcome != Ignored && outcome != Duplicate {
		e.notifyChange()
	}
	return outcome
}

func (e *Engine) applyLocked(msg models.Message) Outcome {
	if e.chatID == 0 || msg.ChatID != e.chatID {
		return Ignored
	}

	if msg.TempID != "" {
		if i := e.indexOptimisticLocked(msg.TempID); i >= 0 {
			pending := e.optimistic[i]
			e.removeOptimisticLocked(i)
			if e.indexCanonicalLocked(msg.ID) < 0 {
				e.insertCanonicalLocked(e.stampLocked(msg, pending.CreatedAt))
			}
			return Replaced
		}
	}

	if e.indexCanonicalLocked(msg.ID) >= 0 {
		return Duplicate
	}

	if msg.TempID == "" {
		for i, pending := range e.optimistic {
			if pending.SenderID == msg.SenderID && pending.Text == msg.Text && pending.ChatID == msg.ChatID {
				e.removeOptimisticLocked(i)
				e.insertCanonicalLocked(e.stampLocked(msg, pending.CreatedAt))
				return Replaced
			}
		}
	}

	e.insertCanonicalLocked(e.stampLocked(msg, e.now()))
	return Appended
}

// ApplyStatus advances the delivery status of a confirmed message. Regressions
// are ignored.
func (e *Engine) ApplyStatus(messageID int, status models.MessageStatus) bool {
	e.mu.Lock()
	i := e.indexCanonicalLocked(messageID)
	if i < 0 || status.Rank() <= e.canonical[i].Status.Rank() {
		e.mu.Unlock()
		return false
	}
	e.canonical[i].Status = status
	e.mu.Unlock()
	e.notifyChange()
	return true
}

// ApplyUploadProgress records upload progress (0-100) of an optimistic file send.
func (e *Engine) ApplyUploadProgress(tempID string, progress int) bool {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	e.mu.Lock()
	i := e.indexOptimisticLocked(tempID)
	if i < 0 {
		e.mu.Unlock()
		return false
	}
	e.optimistic[i].UploadProgress = progress
	e.mu.Unlock()
	e.notifyChange()
	return true
}

// Retry moves a failed optimistic entry back to sending and returns it so the
// caller can publish it again under the same temp id.
func (e *Engine) Retry(tempID string) (models.Message, error) {
	e.mu.Lock()
	i := e.indexOptimisticLocked(tempID)
	if i < 0 {
		e.mu.Unlock()
		return models.Message{}, ErrUnknownTempID
	}
	e.optimistic[i].Status = models.StatusSending
	e.armLocked(tempID)
	msg := e.optimistic[i]
	e.mu.Unlock()
	e.notifyChange()
	return msg, nil
}

// Discard drops an optimistic entry.
func (e *Engine) Discard(tempID string) error {
	e.mu.Lock()
	i := e.indexOptimisticLocked(tempID)
	if i < 0 {
		e.mu.Unlock()
		return ErrUnknownTempID
	}
	e.removeOptimisticLocked(i)
	e.mu.Unlock()
	e.notifyChange()
	return nil
}

// Messages returns a copy of the ordered view: confirmed messages by creation
// time, then optimistic ones in submission order.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messagesLocked()
}

// Loading reports whether a snapshot fetch is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// OnChange registers fn to run after every mutation.
func (e *Engine) OnChange(fn func()) func() {
	key := &fn
	e.obsMu.Lock()
	e.onChange[key] = struct{}{}
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.onChange, key)
		e.obsMu.Unlock()
	}
}

// OnFailure registers fn to run when an optimistic entry goes stale.
func (e *Engine) OnFailure(fn func(models.Message)) func() {
	key := &fn
	e.obsMu.Lock()
	e.onFailure[key] = struct{}{}
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.onFailure, key)
		e.obsMu.Unlock()
	}
}

// Close stops the stale timers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tempID, st := range e.timers {
		st.timer.Stop()
		delete(e.timers, tempID)
	}
}

func (e *Engine) armLocked(tempID string) {
	if st, ok := e.timers[tempID]; ok {
		st.timer.Stop()
	}
	e.timerSeq++
	seq := e.timerSeq
	e.timers[tempID] = staleTimer{
		timer: time.AfterFunc(e.staleAfter, func() { e.markFailed(tempID, seq) }),
		seq:   seq,
	}
}

func (e *Engine) markFailed(tempID string, seq uint64) {
	e.mu.Lock()
	st, ok := e.timers[tempID]
	if !ok || st.seq != seq {
		e.mu.Unlock()
		return
	}
	delete(e.timers, tempID)
	i := e.indexOptimisticLocked(tempID)
	if i < 0 || e.optimistic[i].Status != models.StatusSending {
		e.mu.Unlock()
		return
	}
	e.optimistic[i].Status = models.StatusFailed
	failed := e.optimistic[i]
	e.mu.Unlock()

	observability.IncOptimisticFailed()
	e.log.Warn().Str(logging.FieldTempID, tempID).Int(logging.FieldChatID, failed.ChatID).Msg("optimistic message not confirmed in time")
	e.notifyFailure(failed)
	e.notifyChange()
}

func (e *Engine) indexOptimisticLocked(tempID string) int {
	for i, msg := range e.optimistic {
		if msg.TempID == tempID {
			return i
		}
	}
	return -1
}

func (e *Engine) indexCanonicalLocked(id int) int {
	if id == 0 {
		return -1
	}
	for i, msg := range e.canonical {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) removeOptimisticLocked(i int) {
	tempID := e.optimistic[i].TempID
	if st, ok := e.timers[tempID]; ok {
		st.timer.Stop()
		delete(e.timers, tempID)
	}
	e.optimistic = append(e.optimistic[:i], e.optimistic[i+1:]...)
}

// dropOptimisticLocked removes every optimistic entry whose temp id is not in keep.
func (e *Engine) dropOptimisticLocked(keep map[string]struct{}) {
	kept := e.optimistic[:0]
	for _, msg := range e.optimistic {
		if _, ok := keep[msg.TempID]; ok {
			kept = append(kept, msg)
			continue
		}
		if st, ok := e.timers[msg.TempID]; ok {
			st.timer.Stop()
			delete(e.timers, msg.TempID)
		}
	}
	e.optimistic = kept
}

func (e *Engine) insertCanonicalLocked(msg models.Message) {
	msg.IsOptimistic = false
	msg.UploadProgress = 0
	if msg.Status == "" || msg.Status == models.StatusSending || msg.Status == models.StatusFailed {
		msg.Status = models.StatusSent
	}
	i := sort.Search(len(e.canonical), func(i int) bool {
		return before(msg, e.canonical[i])
	})
	e.canonical = append(e.canonical, models.Message{})
	copy(e.canonical[i+1:], e.canonical[i:])
	e.canonical[i] = msg
}

// stampLocked gives an undated message the time at. It never lands ahead of
// the newest confirmed message, so undated echoes keep arrival order.
func (e *Engine) stampLocked(msg models.Message, at time.Time) models.Message {
	if !msg.CreatedAt.IsZero() {
		return msg
	}
	if n := len(e.canonical); n > 0 && e.canonical[n-1].CreatedAt.After(at) {
		at = e.canonical[n-1].CreatedAt
	}
	msg.CreatedAt = at
	return msg
}

func before(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (e *Engine) messagesLocked() []models.Message {
	out := make([]models.Message, 0, len(e.canonical)+len(e.optimistic))
	out = append(out, e.canonical...)
	out = append(out, e.optimistic...)
	return out
}

func (e *Engine) notifyChange() {
	e.obsMu.RLock()
	fns := make([]func(), 0, len(e.onChange))
	for fn := range e.onChange {
		fns = append(fns, *fn)
	}
	e.obsMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *Engine) notifyFailure(msg models.Message) {
	e.obsMu.RLock()
	fns := make([]func(models.Message), 0, len(e.onFailure))
	for fn := range e.onFailure {
		fns = append(fns, *fn)
	}
	e.obsMu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}
