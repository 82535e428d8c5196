package storage

import (
	"context"

	"github.com/advisr/consult-billing/pkg/models"
)

// LedgerStore defines the interface for the append-only transaction log.
// Entries are immutable once appended; the cached account balance must be
// derivable by folding them at any point.
type LedgerStore interface {
	// AppendEntry appends an immutable ledger entry. Fails with ErrConflict
	// if an entry with the same ID already exists.
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error

	// ListEntriesByAccount retrieves the entries for an account, oldest
	// first. A limit of 0 means no limit.
	ListEntriesByAccount(ctx context.Context, accountID string, limit int32) ([]models.LedgerEntry, error)
}
