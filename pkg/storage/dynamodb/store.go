package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/advisr/consult-billing/pkg/storage"
)

// DynamoDBAPI captures the subset of the DynamoDB client the store uses.
// Having an interface here lets tests inject a mock client.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements the Storage interface using AWS DynamoDB.
type Store struct {
	Client                DynamoDBAPI
	AccountsTableName     string
	LedgerTableName       string
	SessionsTableName     string
	ReceiptsTableName     string
	ReservationsTableName string
	ConnectionsTableName  string
}

// New creates a new Store.
func New(client DynamoDBAPI, accountsTable, ledgerTable, sessionsTable, receiptsTable, reservationsTable, connectionsTable string) *Store {
	return &Store{
		Client:                client,
		AccountsTableName:     accountsTable,
		LedgerTableName:       ledgerTable,
		SessionsTableName:     sessionsTable,
		ReceiptsTableName:     receiptsTable,
		ReservationsTableName: reservationsTable,
		ConnectionsTableName:  connectionsTable,
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)
