package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Diagnostic event types emitted by the client.
const (
	EventWSConnect            = "ws_connect"
	EventWSDisconnect         = "ws_disconnect"
	EventWSReconnectExhausted = "ws_reconnect_exhausted"
	EventMessageSendFailed    = "message_send_failed"
	EventSessionExpired       = "session_expired"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Emitter sends client diagnostic envelopes to a Publisher.
type Emitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         zerolog.Logger
}

type Envelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	UserID        *int           `json:"user_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

func NewEmitter(publisher Publisher, routingKey, service, environment string, log zerolog.Logger) *Emitter {
	return &Emitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes one diagnostic event. Failures are logged, never returned.
func (e *Emitter) Emit(ctx context.Context, eventType string, userID int, payload map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       payload,
	}
	if userID != 0 {
		envelope.UserID = &userID
	}

	if err := e.publisher.Publish(ctx, e.routingKey+"."+eventType, envelope); err != nil {
		e.log.Warn().Err(err).Str("event_type", eventType).Msg("diagnostic publish failed")
	}
}
