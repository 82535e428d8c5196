package dynamodb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
	"github.com/advisr/consult-billing/pkg/storage/dynamodb/mocks"
)

func newTestStore(client DynamoDBAPI) *Store {
	return New(client, "accounts", "ledger", "sessions", "receipts", "reservations", "connections")
}

func TestCreateAccount(t *testing.T) {
	account := &models.Account{AccountID: "acct-1", Balance: 5000}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)

		store := newTestStore(mockClient)
		err := store.CreateAccount(context.Background(), account)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Conflict", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		store := newTestStore(mockClient)
		err := store.CreateAccount(context.Background(), account)

		assert.ErrorIs(t, err, storage.ErrConflict)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(nil, errors.New("some other storage error"))

		store := newTestStore(mockClient)
		err := store.CreateAccount(context.Background(), account)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create account in DynamoDB")
		mockClient.AssertExpectations(t)
	})
}

func TestGetAccount(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		account := models.Account{AccountID: "acct-1", Balance: 5000, Version: 3}
		item, err := attributevalue.MarshalMap(account)
		assert.NoError(t, err)

		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

		store := newTestStore(mockClient)
		got, err := store.GetAccount(context.Background(), "acct-1")

		assert.NoError(t, err)
		assert.Equal(t, &account, got)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		store := newTestStore(mockClient)
		_, err := store.GetAccount(context.Background(), "acct-1")

		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("dynamo unavailable"))

		store := newTestStore(mockClient)
		_, err := store.GetAccount(context.Background(), "acct-1")

		assert.Error(t, err)
		mockClient.AssertExpectations(t)
	})
}

func TestUpdateAccount(t *testing.T) {
	account := &models.Account{AccountID: "acct-1", Balance: 3500, Version: 4}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil)

		store := newTestStore(mockClient)
		err := store.UpdateAccount(context.Background(), account, 3)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Version Conflict", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		store := newTestStore(mockClient)
		err := store.UpdateAccount(context.Background(), account, 3)

		assert.ErrorIs(t, err, storage.ErrConflict)
		mockClient.AssertExpectations(t)
	})
}
