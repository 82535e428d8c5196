package websockets

import (
	"context"
)

// Publisher defines the interface for pushing messages to the subscribers
// of one session's tick stream.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, message Message) error
}
