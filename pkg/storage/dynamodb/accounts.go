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

// GetAccount retrieves an account from DynamoDB by its ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"account_id": accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.AccountsTableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrNotFound
	}

	var account models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &account, nil
}

// CreateAccount creates a new account record in DynamoDB.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	accountAV, err := attributevalue.MarshalMap(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.AccountsTableName),
		Item:                accountAV,
		ConditionExpression: aws.String("attribute_not_exists(account_id)"), // Prevent overwriting existing accounts.
	}

	_, err = s.Client.PutItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create account in DynamoDB: %w", err)
	}
	return nil
}

// UpdateAccount writes the account's cached balance, conditional on the
// stored version still matching expectedVersion.
func (s *Store) UpdateAccount(ctx context.Context, account *models.Account, expectedVersion int64) error {
	balanceAV, err := attributevalue.Marshal(account.Balance)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	updatedAtAV, err := attributevalue.Marshal(account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal updated_at: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.AccountsTableName),
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: account.AccountID},
		},
		UpdateExpression:    aws.String("SET balance = :balance, version = :version, updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(account_id) AND version = :expected_version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":balance":          balanceAV,
			":updated_at":       updatedAtAV,
			":version":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", account.Version)},
			":expected_version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		},
	}

	_, err = s.Client.UpdateItem(ctx, input)
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to update account in DynamoDB: %w", err)
	}
	return nil
}

// ListAccounts retrieves all accounts from DynamoDB.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	result, err := s.Client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.AccountsTableName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts table: %w", err)
	}

	var accounts []models.Account
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}
	return accounts, nil
}
