// Package bridge connects hosted agents to external messaging platforms.
// Each running agent with a credential owns at most one long-lived
// polling connection whose inbound messages are answered through the
// agent chat service.
package bridge

import (
	"context"
	"errors"

	"github.com/ashureev/clawnest/internal/domain"
)

var (
	// ErrNoCredential is returned when a bridge is started without a token.
	ErrNoCredential = errors.New("bridge credential missing")
	// ErrUnsupportedPlatform is returned when no dialer handles the platform.
	ErrUnsupportedPlatform = errors.New("unsupported bridge platform")
)

// Inbound is a message received from a messaging platform.
type Inbound struct {
	ChatID string
	Text   string
	// Start marks the platform's start command (/start, !start).
	Start bool
}

// Outbound is a message to deliver to a chat.
type Outbound struct {
	ChatID   string
	Text     string
	Markdown bool
}

// Conn is an open connection to a messaging platform.
type Conn interface {
	// Poll blocks until at least one message is available, an error occurs
	// or ctx is done.
	Poll(ctx context.Context) ([]Inbound, error)
	Send(ctx context.Context, msg Outbound) error
	Typing(ctx context.Context, chatID string) error
	// Close releases the connection and aborts any in-flight Poll.
	Close() error
}

// Dialer opens connections for one platform. Dial fails synchronously on a
// credential the platform rejects.
type Dialer interface {
	Dial(ctx context.Context, cred domain.BridgeCredential) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cred domain.BridgeCredential) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, cred domain.BridgeCredential) (Conn, error) {
	return f(ctx, cred)
}
