// ABOUTME: Audit event types and the Log interface for recording them.
// ABOUTME: Tracks setup, authentication, and tool activity for operators.

package audit

import (
	"context"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindLoginToken       Kind = "login.token"
	KindLoginChallenge   Kind = "login.challenge"
	KindLoginFailed      Kind = "login.failed"
	KindVerifyOK         Kind = "verify.ok"
	KindVerifyFailed     Kind = "verify.failed"
	KindSessionCleared   Kind = "session.cleared"
	KindTokenInvalidated Kind = "token.invalidated"
	KindToolInvoked      Kind = "tool.invoked"
	KindToolFailed       Kind = "tool.failed"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`       // UUID v4
	Kind      Kind      `json:"kind"`     // what happened
	Identity  string    `json:"identity"` // account email or tool name
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log records audit events and lists them back newest first. Recording is
// advisory: failures are logged by callers, never surfaced to the request
// that triggered the event.
type Log interface {
	Record(ctx context.Context, e *Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Noop is the Log used when no audit path is configured.
type Noop struct{}

func (Noop) Record(context.Context, *Event) error { return nil }

func (Noop) Recent(context.Context, int) ([]Event, error) { return []Event{}, nil }

func (Noop) Close() error { return nil }
