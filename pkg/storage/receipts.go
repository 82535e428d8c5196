package storage

import (
	"context"

	"github.com/advisr/consult-billing/pkg/models"
)

// ReceiptStore defines the interface for immutable settlement receipts.
type ReceiptStore interface {
	// CreateReceipt persists a receipt. Exactly one receipt exists per
	// session; a duplicate fails with ErrConflict.
	CreateReceipt(ctx context.Context, receipt *models.Receipt) error

	// GetReceipt retrieves a receipt by its ID.
	GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error)

	// GetReceiptBySession retrieves the receipt for a settled session.
	GetReceiptBySession(ctx context.Context, sessionID string) (*models.Receipt, error)

	// AttachRating attaches a 1-5 rating to a receipt. Ratings are
	// write-once: a second attach fails with ErrRatingAttached.
	AttachRating(ctx context.Context, receiptID string, rating int) (*models.Receipt, error)
}
