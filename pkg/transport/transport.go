// Package transport defines the narrow surface through which the billing
// core informs the chat/voice transport of session lifecycle changes. The
// core never reads message content and never blocks on the transport.
package transport

import "context"

// LifecycleListener is notified as sessions move through their lifecycle so
// the transport can enable or disable message sending. Implementations must
// return quickly; the engine invokes them outside its locks.
type LifecycleListener interface {
	// SessionActive is called when a session becomes billable.
	SessionActive(ctx context.Context, sessionID string)

	// SessionEnding is called when termination begins; the transport
	// should stop accepting new messages.
	SessionEnding(ctx context.Context, sessionID string)

	// SessionClosed is called once the session is settled or aborted.
	SessionClosed(ctx context.Context, sessionID string)
}

// NoOpListener ignores all lifecycle notifications.
type NoOpListener struct{}

func (NoOpListener) SessionActive(context.Context, string) {}
func (NoOpListener) SessionEnding(context.Context, string) {}
func (NoOpListener) SessionClosed(context.Context, string) {}
