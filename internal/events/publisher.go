// Package events publishes call session state changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Publisher delivers payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// StateChange is the payload published for every session transition.
type StateChange struct {
	SessionID    string    `json:"session_id"`
	Direction    string    `json:"direction"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	CompanyID    string    `json:"company_id"`
	EmployeeID   string    `json:"employee_id"`
	PhoneNumber  string    `json:"phone_number"`
	RemoteCallID string    `json:"remote_call_id,omitempty"`
	Dialect      string    `json:"dialect,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// SessionTopic returns <prefix>/sessions/<id>.
func SessionTopic(prefix, sessionID string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return "sessions/" + sessionID
	}
	return prefix + "/sessions/" + sessionID
}

// PublishStateChange encodes ev and publishes it on the session topic.
func PublishStateChange(ctx context.Context, p Publisher, prefix string, ev StateChange) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}
	return p.Publish(ctx, SessionTopic(prefix, ev.SessionID), payload)
}

// Nop discards everything. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
