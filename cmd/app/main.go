package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/advisr/consult-billing/pkg/clock"
	"github.com/advisr/consult-billing/pkg/engine"
	"github.com/advisr/consult-billing/pkg/handlers"
	"github.com/advisr/consult-billing/pkg/handlers/receipts"
	"github.com/advisr/consult-billing/pkg/handlers/sessions"
	"github.com/advisr/consult-billing/pkg/handlers/streams"
	"github.com/advisr/consult-billing/pkg/handlers/wallets"
	"github.com/advisr/consult-billing/pkg/ledger"
	"github.com/advisr/consult-billing/pkg/scheduler"
	dydbstore "github.com/advisr/consult-billing/pkg/storage/dynamodb"
	"github.com/advisr/consult-billing/pkg/websockets"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// AWS Session
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
	connectionsTable := os.Getenv("DYNAMODB_CONNECTIONS_TABLE_NAME")

	if accountsTable == "" || ledgerTable == "" || sessionsTable == "" || receiptsTable == "" || reservationsTable == "" {
		log.Fatal("One or more DynamoDB table name environment variables are not set")
	}

	store := dydbstore.New(dbClient, accountsTable, ledgerTable, sessionsTable, receiptsTable, reservationsTable, connectionsTable)

	// SQS delayed tasks back reservation expiry; without a queue the
	// periodic recovery sweep picks expired holds up instead.
	var sched scheduler.Scheduler
	if sqsQueueURL := os.Getenv("SQS_QUEUE_URL"); sqsQueueURL != "" {
		sched = scheduler.NewSQSScheduler(sqs.NewFromConfig(cfg), sqsQueueURL)
	}

	// Deployed, ticks are pushed through the API Gateway management API.
	// Locally the in-process hub serves /sessions/{id}/stream directly.
	var pub websockets.Publisher
	if endpoint := os.Getenv("WEBSOCKET_API_ENDPOINT"); endpoint != "" {
		pub, err = websockets.NewAPIGatewayPublisher(store, endpoint)
		if err != nil {
			log.Fatalf("failed to create websocket publisher: %v", err)
		}
	}

	clk := clock.WallClock{}
	wallet := ledger.New(store, clk, logger)
	hub := websockets.NewHub()

	eng := engine.New(store, wallet, clk, hub, pub, sched, nil, logger, engine.Config{
		MinReservationMinutes: envInt64("MIN_RESERVATION_MINUTES", 0),
		LowBalanceThreshold:   envSeconds("LOW_BALANCE_THRESHOLD_SECONDS", 0),
		ReservationTTL:        envMinutes("RESERVATION_TTL_MINUTES", 0),
		ConnectivityTimeout:   envSeconds("CONNECTIVITY_TIMEOUT_SECONDS", 90),
		TickInterval:          envSeconds("TICK_INTERVAL_SECONDS", 0),
	})

	// Settle any session the previous process left ACTIVE or ENDING before
	// accepting traffic; their accrual stopped at the last durable tick.
	if err := eng.Recover(context.Background()); err != nil {
		log.Fatalf("failed to recover in-flight sessions: %v", err)
	}

	router := handlers.NewRouter(handlers.Handlers{
		Sessions: sessions.NewSessionsHandler(eng),
		Wallets:  wallets.NewWalletsHandler(wallet, store),
		Receipts: receipts.NewReceiptsHandler(store),
		Streams:  streams.NewHandler(eng, store),
	}, logger)

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080" // Default port if not specified
	}

	logger.Info("starting server", "port", port)

	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func envInt64(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return v
}

func envSeconds(name string, fallback int64) time.Duration {
	return time.Duration(envInt64(name, fallback)) * time.Second
}

func envMinutes(name string, fallback int64) time.Duration {
	return time.Duration(envInt64(name, fallback)) * time.Minute
}
