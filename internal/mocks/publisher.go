package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/telemetry"
)

// PublisherMock stands in for the diagnostics broker.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Envelopes returns the diagnostic envelopes published so far, in order.
func (m *PublisherMock) Envelopes() []telemetry.Envelope {
	var out []telemetry.Envelope
	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}
		if env, ok := call.Arguments.Get(2).(telemetry.Envelope); ok {
			out = append(out, env)
		}
	}
	return out
}
