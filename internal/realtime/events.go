package realtime

import (
	"encoding/json"
	"sync"
)

// Frame is the JSON envelope of every socket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives the raw data of an inbound event.
type Handler func(data json.RawMessage)

type listener struct {
	fn Handler
}

type registry struct {
	mu        sync.RWMutex
	listeners map[string][]*listener
}

func newRegistry() *registry {
	return &registry{listeners: make(map[string][]*listener)}
}

func (r *registry) add(event string, fn Handler) func() {
	l := &listener{fn: fn}
	r.mu.Lock()
	r.listeners[event] = append(r.listeners[event], l)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			current := r.listeners[event]
			for i, candidate := range current {
				if candidate == l {
					r.listeners[event] = append(current[:i:i], current[i+1:]...)
					break
				}
			}
			if len(r.listeners[event]) == 0 {
				delete(r.listeners, event)
			}
		})
	}
}

func (r *registry) snapshot(event string) []*listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*listener(nil), r.listeners[event]...)
}

func (r *registry) count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[event])
}

// On subscribes fn to event and decodes its payload into T. Payloads that do not
// decode are logged and skipped.
func On[T any](s *Session, event string, fn func(T)) func() {
	return s.Subscribe(event, func(data json.RawMessage) {
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			s.log.Warn().Err(err).Str("event", event).Msg("discarding malformed event payload")
			return
		}
		fn(payload)
	})
}
