package models

import (
	"time"
)

// SessionStatus defines the possible states of a consultation session.
type SessionStatus string

const (
	PENDING SessionStatus = "PENDING"
	ACTIVE  SessionStatus = "ACTIVE"
	ENDING  SessionStatus = "ENDING"
	SETTLED SessionStatus = "SETTLED"
	ABORTED SessionStatus = "ABORTED"
)

// EndCause identifies what triggered a session's termination.
type EndCause string

const (
	EndCauseUser      EndCause = "user"
	EndCauseExpert    EndCause = "expert"
	EndCauseExhausted EndCause = "exhausted"
	EndCauseTimeout   EndCause = "timeout"
)

// EntryKind distinguishes the two sides of the ledger.
type EntryKind string

const (
	CREDIT EntryKind = "CREDIT"
	DEBIT  EntryKind = "DEBIT"
)

// Account represents a payer's wallet. Balance is in minor currency units
// (paise) and is mutated only through ledger transactions. Accounts are
// created on first recharge and soft-archived, never deleted.
type Account struct {
	AccountID string    `json:"account_id" dynamodbav:"account_id"`
	Balance   int64     `json:"balance" dynamodbav:"balance"`
	Version   int64     `json:"version" dynamodbav:"version"`
	Archived  bool      `json:"archived" dynamodbav:"archived"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// LedgerEntry is a single immutable entry in the append-only ledger.
// BalanceAfter snapshots the cached balance at append time so the cache
// is auditable against the fold of all entries.
type LedgerEntry struct {
	EntryID      string    `json:"entry_id" dynamodbav:"entry_id"`
	AccountID    string    `json:"account_id" dynamodbav:"account_id"`
	Kind         EntryKind `json:"kind" dynamodbav:"kind"`
	Amount       int64     `json:"amount" dynamodbav:"amount"`
	Reason       string    `json:"reason" dynamodbav:"reason"`
	BalanceAfter int64     `json:"balance_after" dynamodbav:"balance_after"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Reservation is an engine-internal hold against an account's balance.
// It never appears as a LedgerEntry; if not consumed or released before
// ExpiresAt it is auto-released.
type Reservation struct {
	ReservationID string    `json:"reservation_id" dynamodbav:"reservation_id"`
	AccountID     string    `json:"account_id" dynamodbav:"account_id"`
	Amount        int64     `json:"amount" dynamodbav:"amount"`
	CreatedAt     time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" dynamodbav:"expires_at"`
}

// Session represents one metered consultation between a payer and an expert.
// ElapsedSeconds and AccruedCost hold the session's last durably recorded
// tick; they only ever increase while the session is ACTIVE.
type Session struct {
	SessionID      string        `json:"session_id" dynamodbav:"session_id"`
	AccountID      string        `json:"account_id" dynamodbav:"account_id"`
	ExpertID       string        `json:"expert_id" dynamodbav:"expert_id"`
	RatePerMinute  int64         `json:"rate_per_minute" dynamodbav:"rate_per_minute"`
	ReservationID  string        `json:"reservation_id" dynamodbav:"reservation_id"`
	ReservedAmount int64         `json:"reserved_amount" dynamodbav:"reserved_amount"`
	Status         SessionStatus `json:"status" dynamodbav:"status"`
	ElapsedSeconds int64         `json:"elapsed_seconds" dynamodbav:"elapsed_seconds"`
	AccruedCost    int64         `json:"accrued_cost" dynamodbav:"accrued_cost"`
	CreatedAt      time.Time     `json:"created_at" dynamodbav:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	EndedAt        *time.Time    `json:"ended_at,omitempty" dynamodbav:"ended_at,omitempty"`
	EndCause       EndCause      `json:"end_cause,omitempty" dynamodbav:"end_cause,omitempty"`
}

// Terminal reports whether the session has reached a terminal status.
func (s *Session) Terminal() bool {
	return s.Status == SETTLED || s.Status == ABORTED
}

// Receipt is the immutable record of a settled session. FinalCost always
// equals the amount actually debited; Partial marks the rare settlement
// where available funds no longer covered the computed cost.
type Receipt struct {
	ReceiptID       string    `json:"receipt_id" dynamodbav:"receipt_id"`
	SessionID       string    `json:"session_id" dynamodbav:"session_id"`
	AccountID       string    `json:"account_id" dynamodbav:"account_id"`
	ExpertID        string    `json:"expert_id" dynamodbav:"expert_id"`
	DurationSeconds int64     `json:"duration_seconds" dynamodbav:"duration_seconds"`
	FinalCost       int64     `json:"final_cost" dynamodbav:"final_cost"`
	Partial         bool      `json:"partial" dynamodbav:"partial"`
	LedgerEntryID   string    `json:"ledger_entry_id" dynamodbav:"ledger_entry_id"`
	EndCause        EndCause  `json:"end_cause" dynamodbav:"end_cause"`
	Rating          *int      `json:"rating,omitempty" dynamodbav:"rating,omitempty"`
	CreatedAt       time.Time `json:"created_at" dynamodbav:"created_at"`
}
