// Package api holds the request and response types of the HTTP surface.
// They are deliberately separate from the domain models so the wire format
// can evolve without touching the engine.
package api

import "time"

// NewSession is the request body for creating a consultation session.
type NewSession struct {
	AccountID     string `json:"account_id"`
	ExpertID      string `json:"expert_id"`
	RatePerMinute int64  `json:"rate_per_minute"`
}

// Session is the API representation of a consultation session.
type Session struct {
	SessionID      string     `json:"session_id"`
	AccountID      string     `json:"account_id"`
	ExpertID       string     `json:"expert_id"`
	RatePerMinute  int64      `json:"rate_per_minute"`
	ReservedAmount int64      `json:"reserved_amount"`
	Status         string     `json:"status"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	AccruedCost    int64      `json:"accrued_cost"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndCause       string     `json:"end_cause,omitempty"`
}

// EndSession is the request body for terminating a session.
type EndSession struct {
	Cause string `json:"cause,omitempty"`
}

// TopUp is the request body for growing an active session's reservation.
type TopUp struct {
	Amount int64 `json:"amount"`
}

// Recharge is the request body for crediting a wallet.
type Recharge struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// Wallet is the API representation of a payer's balance.
type Wallet struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
}

// LedgerEntry is the API representation of one ledger line.
type LedgerEntry struct {
	EntryID      string    `json:"entry_id"`
	AccountID    string    `json:"account_id"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Receipt is the API representation of a settled session's receipt.
type Receipt struct {
	ReceiptID       string    `json:"receipt_id"`
	SessionID       string    `json:"session_id"`
	AccountID       string    `json:"account_id"`
	ExpertID        string    `json:"expert_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	FinalCost       int64     `json:"final_cost"`
	Partial         bool      `json:"partial"`
	LedgerEntryID   string    `json:"ledger_entry_id,omitempty"`
	EndCause        string    `json:"end_cause"`
	Rating          *int      `json:"rating,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Rating is the request body for rating a completed consultation.
type Rating struct {
	Rating int `json:"rating"`
}
