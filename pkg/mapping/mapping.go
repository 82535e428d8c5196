package mapping

import (
	"github.com/advisr/consult-billing/pkg/api"
	"github.com/advisr/consult-billing/pkg/models"
)

// ToApiSession converts a domain Session model to an API Session model.
func ToApiSession(session *models.Session) *api.Session {
	return &api.Session{
		SessionID:      session.SessionID,
		AccountID:      session.AccountID,
		ExpertID:       session.ExpertID,
		RatePerMinute:  session.RatePerMinute,
		ReservedAmount: session.ReservedAmount,
		Status:         string(session.Status),
		ElapsedSeconds: session.ElapsedSeconds,
		AccruedCost:    session.AccruedCost,
		CreatedAt:      session.CreatedAt,
		StartedAt:      session.StartedAt,
		EndedAt:        session.EndedAt,
		EndCause:       string(session.EndCause),
	}
}

// ToApiWallet builds the API wallet view from an account and its available
// balance. Available is computed by the ledger, not stored.
func ToApiWallet(account *models.Account, available int64) *api.Wallet {
	return &api.Wallet{
		AccountID: account.AccountID,
		Balance:   account.Balance,
		Available: available,
	}
}

// ToApiLedgerEntry converts a domain LedgerEntry to its API model.
func ToApiLedgerEntry(entry *models.LedgerEntry) *api.LedgerEntry {
	return &api.LedgerEntry{
		EntryID:      entry.EntryID,
		AccountID:    entry.AccountID,
		Kind:         string(entry.Kind),
		Amount:       entry.Amount,
		Reason:       entry.Reason,
		BalanceAfter: entry.BalanceAfter,
		CreatedAt:    entry.CreatedAt,
	}
}

// ToApiReceipt converts a domain Receipt to its API model.
func ToApiReceipt(receipt *models.Receipt) *api.Receipt {
	return &api.Receipt{
		ReceiptID:       receipt.ReceiptID,
		SessionID:       receipt.SessionID,
		AccountID:       receipt.AccountID,
		ExpertID:        receipt.ExpertID,
		DurationSeconds: receipt.DurationSeconds,
		FinalCost:       receipt.FinalCost,
		Partial:         receipt.Partial,
		LedgerEntryID:   receipt.LedgerEntryID,
		EndCause:        string(receipt.EndCause),
		Rating:          receipt.Rating,
		CreatedAt:       receipt.CreatedAt,
	}
}

// ToDomainEndCause converts the API end cause string into its domain value.
// An empty or unrecognized cause defaults to a user-initiated end.
func ToDomainEndCause(cause string) models.EndCause {
	switch models.EndCause(cause) {
	case models.EndCauseExpert:
		return models.EndCauseExpert
	case models.EndCauseExhausted:
		return models.EndCauseExhausted
	case models.EndCauseTimeout:
		return models.EndCauseTimeout
	default:
		return models.EndCauseUser
	}
}
