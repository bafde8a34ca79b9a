package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	Topic   string
	Payload []byte
}

// MockPublisher records publishes for tests.
type MockPublisher struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	err      error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// StateChanges decodes every recorded payload, skipping ones that are
// not state changes.
func (m *MockPublisher) StateChanges() []StateChange {
	var out []StateChange
	for _, msg := range m.Messages() {
		var ev StateChange
		if json.Unmarshal(msg.Payload, &ev) == nil && ev.SessionID != "" {
			out = append(out, ev)
		}
	}
	return out
}

func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError makes later publishes fail with err; nil clears it.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
