package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

const (
	accountSessionsIndex = "account_id-created_at-index"
	statusSessionsIndex  = "status-created_at-index"
)

// GetSession retrieves a session from DynamoDB by its ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.SessionsTableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrNotFound
	}

	var session models.Session
	if err := attributevalue.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	sessionAV, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.SessionsTableName),
		Item:                sessionAV,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create session in DynamoDB: %w", err)
	}
	return nil
}

// TransitionSession writes the session conditionally on the stored status
// still being `from`. Losing the condition means another process already
// moved the session; the caller re-reads and reconciles.
func (s *Store) TransitionSession(ctx context.Context, session *models.Session, from models.SessionStatus) error {
	sessionAV, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.SessionsTableName),
		Item:                sessionAV,
		ConditionExpression: aws.String("attribute_exists(session_id) AND #status = :from"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
		},
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrInvalidTransition
		}
		return fmt.Errorf("failed to transition session in DynamoDB: %w", err)
	}
	return nil
}

// RecordProgress durably writes a session's last observed tick. Conditional
// on the session being ACTIVE and the elapsed value not regressing, so a
// reordered tick after termination or from a stale process is a no-op.
func (s *Store) RecordProgress(ctx context.Context, sessionID string, elapsedSeconds, accruedCost int64) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.SessionsTableName),
		Key: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: sessionID},
		},
		UpdateExpression:    aws.String("SET elapsed_seconds = :elapsed, accrued_cost = :accrued"),
		ConditionExpression: aws.String("#status = :active AND elapsed_seconds <= :elapsed"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":elapsed": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", elapsedSeconds)},
			":accrued": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", accruedCost)},
			":active":  &types.AttributeValueMemberS{Value: string(models.ACTIVE)},
		},
	}

	_, err := s.Client.UpdateItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrInvalidTransition
		}
		return fmt.Errorf("failed to record session progress in DynamoDB: %w", err)
	}
	return nil
}

// ListSessionsByAccount retrieves all sessions for an account, oldest first.
func (s *Store) ListSessionsByAccount(ctx context.Context, accountID string) ([]models.Session, error) {
	result, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.SessionsTableName),
		IndexName:              aws.String(accountSessionsIndex),
		KeyConditionExpression: aws.String("account_id = :account_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":account_id": &types.AttributeValueMemberS{Value: accountID},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by account: %w", err)
	}

	var sessions []models.Session
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return sessions, nil
}

// ListSessionsByStatus retrieves every session in the given status. Crash
// recovery uses this to find sessions with no terminal record.
func (s *Store) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	result, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.SessionsTableName),
		IndexName:              aws.String(statusSessionsIndex),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by status: %w", err)
	}

	var sessions []models.Session
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return sessions, nil
}
