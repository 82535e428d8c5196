// Package streams serves the live tick stream over WebSockets. Locally the
// handler upgrades the HTTP connection itself; deployed behind API Gateway
// the connect/disconnect lambda handlers register connection IDs and the
// engine pushes through the management API instead.
package streams

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	ws "github.com/advisr/consult-billing/pkg/websockets"

	"github.com/advisr/consult-billing/pkg/storage"
)

// TickSource is the slice of the billing engine the stream handler needs.
type TickSource interface {
	SubscribeTicks(ctx context.Context, sessionID string) (<-chan ws.Message, func(), error)
}

// Handler handles WebSocket tick stream connections.
type Handler struct {
	source      TickSource
	connManager storage.WebSocketManager
}

// NewHandler creates a new Handler.
func NewHandler(source TickSource, connManager storage.WebSocketManager) *Handler {
	return &Handler{source: source, connManager: connManager}
}

// HandleConnect registers a new API Gateway connection for a session's tick
// stream. The session ID arrives as a query parameter on the upgrade
// request.
func (h *Handler) HandleConnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	sessionID := request.QueryStringParameters["session_id"]
	if sessionID == "" {
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}
	slog.Info("client connected", "connection_id", request.RequestContext.ConnectionID, "session_id", sessionID)

	if err := h.connManager.AddConnection(ctx, sessionID, request.RequestContext.ConnectionID); err != nil {
		slog.Error("failed to save connection ID", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: 500}, err
	}

	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

// HandleDisconnect removes a departed API Gateway connection.
func (h *Handler) HandleDisconnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	slog.Info("client disconnected", "connection_id", request.RequestContext.ConnectionID)

	if err := h.connManager.RemoveConnection(ctx, request.RequestContext.ConnectionID); err != nil {
		slog.Error("failed to delete connection ID", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: 500}, err
	}

	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

// HandleDefault handles messages sent from a client.
func (h *Handler) HandleDefault(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	slog.Info("received message", "connection_id", request.RequestContext.ConnectionID, "body", request.Body)
	// Clients are not expected to send anything on the tick stream.
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections by default for local development.
		return true
	},
}

// ServeHTTP streams tick and receipt messages for one session over a local
// WebSocket connection. Disconnecting the stream never ends the session;
// clients reconnect and resume from the current accrual state.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	messages, cancel, err := h.source.SubscribeTicks(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("tick stream opened", "session_id", sessionID)
	defer slog.Info("tick stream closed", "session_id", sessionID)

	// Reads only surface the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					slog.Error("unexpected close error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				slog.Error("failed to write stream message", "session_id", sessionID, "error", err)
				return
			}
			if msg.Type == ws.MessageTypeReceipt {
				// The receipt is the terminal message.
				return
			}
		}
	}
}
