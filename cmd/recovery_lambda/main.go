package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/advisr/consult-billing/pkg/clock"
	"github.com/advisr/consult-billing/pkg/engine"
	"github.com/advisr/consult-billing/pkg/ledger"
	"github.com/advisr/consult-billing/pkg/scheduler"
	dydbstore "github.com/advisr/consult-billing/pkg/storage/dynamodb"
)

var eng *engine.Engine

func init() {
	// Load environment variables from .env file (useful for local testing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	dbClient := awsdynamodb.NewFromConfig(cfg)
	accountsTable := os.Getenv("DYNAMODB_ACCOUNTS_TABLE_NAME")
	ledgerTable := os.Getenv("DYNAMODB_LEDGER_TABLE_NAME")
	sessionsTable := os.Getenv("DYNAMODB_SESSIONS_TABLE_NAME")
	receiptsTable := os.Getenv("DYNAMODB_RECEIPTS_TABLE_NAME")
	reservationsTable := os.Getenv("DYNAMODB_RESERVATIONS_TABLE_NAME")

	if accountsTable == "" || ledgerTable == "" || sessionsTable == "" || receiptsTable == "" || reservationsTable == "" {
		log.Fatal("One or more DynamoDB table name environment variables are not set")
	}

	store := dydbstore.New(dbClient, accountsTable, ledgerTable, sessionsTable, receiptsTable, reservationsTable, "")

	clk := clock.WallClock{}
	wallet := ledger.New(store, clk, logger)

	// The lambda only settles and releases; it never drives live ticks, so
	// no publisher or scheduler is wired.
	eng = engine.New(store, wallet, clk, nil, nil, nil, nil, logger, engine.Config{})
}

// HandleRequest serves two triggers: SQS messages carrying scheduled tasks
// (reservation expiry, forced settlement), and the EventBridge schedule with
// no records, which runs the full recovery sweep.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) error {
	if len(sqsEvent.Records) == 0 {
		log.Println("Starting recovery sweep for in-flight sessions...")
		start := time.Now()
		if err := eng.Recover(ctx); err != nil {
			log.Printf("ERROR: recovery sweep failed: %v", err)
			return err
		}
		log.Printf("Recovery sweep completed in %s", time.Since(start))
		return nil
	}

	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		var task scheduler.Task
		if err := json.Unmarshal([]byte(message.Body), &task); err != nil {
			log.Printf("ERROR: failed to unmarshal task from SQS message %s: %v", message.MessageId, err)
			// Returning an error will cause SQS to retry the message, which is appropriate here.
			return err
		}

		if err := eng.HandleTask(ctx, task); err != nil {
			log.Printf("ERROR: failed to handle task %s for session %s: %v", task.Kind, task.SessionID, err)
			// In a production system, persistent failures would be sent to a DLQ.
			return err
		}

		log.Printf("Successfully handled task %s for session %s", task.Kind, task.SessionID)
	}

	return nil
}

func main() {
	lambda.Start(HandleRequest)
}
