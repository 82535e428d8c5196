// Package settlement composes a frozen session and its ledger debit into an
// immutable receipt.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/advisr/consult-billing/pkg/models"
)

// Reason builds the ledger entry reason string for a session settlement.
func Reason(sessionID string) string {
	return fmt.Sprintf("session_settlement:%s", sessionID)
}

// Build produces the receipt for a settled session. FinalCost is taken from
// the entry actually written, never from the projected cost, so a partial
// settlement yields a receipt matching the debited amount. A nil entry
// (nothing was debitable) produces a zero-cost partial receipt.
func Build(session *models.Session, entry *models.LedgerEntry, partial bool, now time.Time) *models.Receipt {
	r := &models.Receipt{
		ReceiptID:       uuid.New().String(),
		SessionID:       session.SessionID,
		AccountID:       session.AccountID,
		ExpertID:        session.ExpertID,
		DurationSeconds: session.ElapsedSeconds,
		Partial:         partial,
		EndCause:        session.EndCause,
		CreatedAt:       now,
	}
	if entry != nil {
		r.FinalCost = entry.Amount
		r.LedgerEntryID = entry.EntryID
	}
	return r
}

// BuildAborted produces the receipt for a session cancelled before any
// billable time accrued. No ledger entry exists for it.
func BuildAborted(session *models.Session, now time.Time) *models.Receipt {
	return &models.Receipt{
		ReceiptID: uuid.New().String(),
		SessionID: session.SessionID,
		AccountID: session.AccountID,
		ExpertID:  session.ExpertID,
		EndCause:  session.EndCause,
		CreatedAt: now,
	}
}
