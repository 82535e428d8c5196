package accrual

import (
	"sync"
	"time"
)

// Signal marks a balance-related condition observed on a tick.
type Signal string

const (
	SignalNone       Signal = ""
	SignalLowBalance Signal = "low_balance"
	SignalExhausted  Signal = "exhausted"
)

// Update is one observation of a running session's accrual state.
type Update struct {
	ElapsedSeconds           int64     `json:"elapsed_seconds"`
	AccruedCost              int64     `json:"accrued_cost"`
	RemainingEstimateSeconds int64     `json:"remaining_estimate_seconds"`
	Signal                   Signal    `json:"signal,omitempty"`
	ObservedAt               time.Time `json:"observed_at"`
}

// Compute converts elapsed session time into owed cost. Cost is billed in
// whole-minute increments rounded up: a session ended at 61 elapsed seconds
// owes two full minutes.
func Compute(ratePerMinute int64, startedAt, now time.Time) (elapsedSeconds, accruedCost int64) {
	if !now.After(startedAt) {
		return 0, 0
	}
	elapsedSeconds = int64(now.Sub(startedAt) / time.Second)
	accruedCost = CostFor(ratePerMinute, elapsedSeconds)
	return elapsedSeconds, accruedCost
}

// CostFor returns the whole-minute-rounded-up cost of the given elapsed time.
func CostFor(ratePerMinute, elapsedSeconds int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	minutes := (elapsedSeconds + 59) / 60
	return minutes * ratePerMinute
}

// RemainingSeconds estimates how much longer the given balance funds the
// session, in whole minutes of runway.
func RemainingSeconds(ratePerMinute, available int64) int64 {
	if available <= 0 {
		return 0
	}
	return (available / ratePerMinute) * 60
}

// Meter tracks accrual for a single session against its reservation.
// The reservation balance is fixed at session start plus explicit top-ups;
// it deliberately ignores concurrent movement on the live account balance.
//
// Observations are monotonic: an Observe with a clock reading earlier than
// the last one returns the previous update unchanged, so reordered ticks can
// never make the accrued cost appear to decrease.
type Meter struct {
	mu                  sync.Mutex
	ratePerMinute       int64
	startedAt           time.Time
	reserved            int64
	lowBalanceThreshold time.Duration
	lowBalanceSignalled bool
	last                Update
}

// NewMeter creates a Meter for a session started at the given instant.
func NewMeter(ratePerMinute int64, startedAt time.Time, reserved int64, lowBalanceThreshold time.Duration) *Meter {
	return &Meter{
		ratePerMinute:       ratePerMinute,
		startedAt:           startedAt,
		reserved:            reserved,
		lowBalanceThreshold: lowBalanceThreshold,
	}
}

// TopUp grows the reservation balance mid-session. A top-up re-arms the
// low-balance warning.
func (m *Meter) TopUp(amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved += amount
	m.lowBalanceSignalled = false
}

// Reserved returns the current reservation balance the meter accrues against.
func (m *Meter) Reserved() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved
}

// Observe recomputes the session's accrual state at the given instant.
func (m *Meter) Observe(now time.Time) Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.last.ObservedAt.IsZero() && now.Before(m.last.ObservedAt) {
		return m.last
	}

	elapsed, cost := Compute(m.ratePerMinute, m.startedAt, now)
	remaining := RemainingSeconds(m.ratePerMinute, m.reserved-cost)

	u := Update{
		ElapsedSeconds:           elapsed,
		AccruedCost:              cost,
		RemainingEstimateSeconds: remaining,
		ObservedAt:               now,
	}

	switch {
	case remaining <= 0:
		u.Signal = SignalExhausted
	case time.Duration(remaining)*time.Second <= m.lowBalanceThreshold && !m.lowBalanceSignalled:
		u.Signal = SignalLowBalance
		m.lowBalanceSignalled = true
	}

	m.last = u
	return u
}

// Last returns the most recent update without recomputing.
func (m *Meter) Last() Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
