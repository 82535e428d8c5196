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

const accountEntriesIndex = "account_id-created_at-index"

// AppendEntry appends an immutable entry to the ledger table.
func (s *Store) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	entryAV, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.LedgerTableName),
		Item:                entryAV,
		ConditionExpression: aws.String("attribute_not_exists(entry_id)"), // Entries are append-only, never replaced.
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to append ledger entry in DynamoDB: %w", err)
	}
	return nil
}

// ListEntriesByAccount retrieves an account's ledger entries, oldest first.
func (s *Store) ListEntriesByAccount(ctx context.Context, accountID string, limit int32) ([]models.LedgerEntry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.LedgerTableName),
		IndexName:              aws.String(accountEntriesIndex),
		KeyConditionExpression: aws.String("account_id = :account_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":account_id": &types.AttributeValueMemberS{Value: accountID},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}

	var entries []models.LedgerEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entries: %w", err)
	}
	return entries, nil
}
