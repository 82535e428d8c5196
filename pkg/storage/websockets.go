package storage

import "context"

// WebSocketManager defines the interface for storing and retrieving
// WebSocket connection IDs, keyed by the session whose tick stream the
// connection subscribed to.
type WebSocketManager interface {
	AddConnection(ctx context.Context, sessionID, connectionID string) error
	RemoveConnection(ctx context.Context, connectionID string) error
	GetSessionConnections(ctx context.Context, sessionID string) ([]string, error)
}
