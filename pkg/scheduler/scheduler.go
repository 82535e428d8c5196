package scheduler

import (
	"context"
	"time"
)

// TaskKind identifies what a scheduled task should do when it fires.
type TaskKind string

const (
	// TaskReservationExpiry prompts a check that a reservation was
	// confirmed; an unconfirmed hold is released.
	TaskReservationExpiry TaskKind = "reservation_expiry"

	// TaskForceSettle prompts a forced settlement of a session that was
	// left without a terminal record.
	TaskForceSettle TaskKind = "force_settle"
)

// Task is the payload of a scheduled follow-up.
type Task struct {
	Kind          TaskKind `json:"kind"`
	SessionID     string   `json:"session_id,omitempty"`
	ReservationID string   `json:"reservation_id,omitempty"`
	AccountID     string   `json:"account_id,omitempty"`
}

// Scheduler defines the interface for a component that schedules a task for
// later processing.
type Scheduler interface {
	// Schedule enqueues a task to fire after the given delay.
	Schedule(ctx context.Context, task Task, delay time.Duration) error
}

// NoOpScheduler is a Scheduler that drops every task. Used in tests and
// local runs where the recovery sweep alone is enough.
type NoOpScheduler struct{}

// Schedule does nothing.
func (NoOpScheduler) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	return nil
}
