package storage

import (
	"context"

	"github.com/advisr/consult-billing/pkg/models"
)

// AccountStore defines the interface for managing payer accounts.
type AccountStore interface {
	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// CreateAccount creates a new account. Fails with ErrConflict if the
	// account already exists.
	CreateAccount(ctx context.Context, account *models.Account) error

	// UpdateAccount persists the account's cached balance. The write is
	// conditional on the stored version matching expectedVersion; a
	// mismatch fails with ErrConflict.
	UpdateAccount(ctx context.Context, account *models.Account, expectedVersion int64) error

	// ListAccounts retrieves all accounts.
	ListAccounts(ctx context.Context) ([]models.Account, error)
}
