package websockets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"github.com/advisr/consult-billing/pkg/storage"
)

// APIGatewayPublisher pushes messages to the session's subscribers through
// an API Gateway websocket endpoint. Used in the deployed setup; the local
// server uses Hub instead.
type APIGatewayPublisher struct {
	store       storage.WebSocketManager
	apiGwClient *apigatewaymanagementapi.Client
}

// NewAPIGatewayPublisher creates a publisher for the given endpoint.
func NewAPIGatewayPublisher(store storage.WebSocketManager, apiEndpoint string) (*APIGatewayPublisher, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	apiGwClient := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(apiEndpoint)
	})

	return &APIGatewayPublisher{store: store, apiGwClient: apiGwClient}, nil
}

// Make sure we conform to the interface.
var _ Publisher = (*APIGatewayPublisher)(nil)

// Publish sends the message to every connection subscribed to the session.
func (p *APIGatewayPublisher) Publish(ctx context.Context, sessionID string, message Message) error {
	connectionIDs, err := p.store.GetSessionConnections(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session connections: %w", err)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	for _, connectionID := range connectionIDs {
		_, err := p.apiGwClient.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         payload,
		})

		if err != nil {
			var goneErr *apigwtypes.GoneException
			if errors.As(err, &goneErr) {
				slog.Info("stale connection found, deleting", "connectionId", connectionID)
				if err := p.store.RemoveConnection(ctx, connectionID); err != nil {
					slog.Error("failed to delete stale connection", "error", err)
				}
			} else {
				slog.Error("failed to post to connection", "connectionId", connectionID, "error", err)
			}
		}
	}

	return nil
}
