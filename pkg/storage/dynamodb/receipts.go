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

const receiptIDIndex = "receipt_id-index"

// CreateReceipt persists a receipt. The table is keyed by session_id, which
// makes "exactly one receipt per session" a partition-key condition rather
// than application logic.
func (s *Store) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	receiptAV, err := attributevalue.MarshalMap(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.ReceiptsTableName),
		Item:                receiptAV,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create receipt in DynamoDB: %w", err)
	}
	return nil
}

// GetReceiptBySession retrieves the receipt for a session.
func (s *Store) GetReceiptBySession(ctx context.Context, sessionID string) (*models.Receipt, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ReceiptsTableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrNotFound
	}

	var receipt models.Receipt
	if err := attributevalue.UnmarshalMap(result.Item, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &receipt, nil
}

// GetReceipt retrieves a receipt by its ID via the receipt_id index.
func (s *Store) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	result, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ReceiptsTableName),
		IndexName:              aws.String(receiptIDIndex),
		KeyConditionExpression: aws.String("receipt_id = :receipt_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt by ID: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, storage.ErrNotFound
	}

	var receipt models.Receipt
	if err := attributevalue.UnmarshalMap(result.Items[0], &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &receipt, nil
}

// AttachRating writes a rating onto a receipt. Ratings are write-once; the
// condition fails once a rating attribute exists.
func (s *Store) AttachRating(ctx context.Context, receiptID string, rating int) (*models.Receipt, error) {
	receipt, err := s.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.ReceiptsTableName),
		Key: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: receipt.SessionID},
		},
		UpdateExpression:    aws.String("SET rating = :rating"),
		ConditionExpression: aws.String("receipt_id = :receipt_id AND attribute_not_exists(rating)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rating":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rating)},
			":receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
	}

	_, err = s.Client.UpdateItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return nil, storage.ErrRatingAttached
		}
		return nil, fmt.Errorf("failed to attach rating in DynamoDB: %w", err)
	}

	receipt.Rating = &rating
	return receipt, nil
}
