package storage

import (
	"context"

	"github.com/advisr/consult-billing/pkg/models"
)

// SessionReader defines the interface for reading session data.
type SessionReader interface {
	// GetSession retrieves a session by its ID.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// ListSessionsByAccount retrieves all sessions for an account.
	ListSessionsByAccount(ctx context.Context, accountID string) ([]models.Session, error)

	// ListSessionsByStatus retrieves every session currently in the given
	// status. Used by crash recovery to find sessions with no terminal
	// record.
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
}

// SessionWriter defines the interface for creating and transitioning
// sessions.
type SessionWriter interface {
	// CreateSession persists a new session. Fails with ErrConflict if the
	// ID already exists.
	CreateSession(ctx context.Context, session *models.Session) error

	// TransitionSession writes the session conditionally on its stored
	// status still being `from`. A concurrent transition wins the race and
	// this call fails with ErrInvalidTransition; callers treat that as
	// "somebody else already moved it" and re-read.
	TransitionSession(ctx context.Context, session *models.Session, from models.SessionStatus) error

	// RecordProgress durably records a session's last observed tick. The
	// write is conditional on the session being ACTIVE and on the new
	// elapsed value not regressing, so a late tick can never shrink the
	// recorded accrual.
	RecordProgress(ctx context.Context, sessionID string, elapsedSeconds, accruedCost int64) error
}

// SessionStore combines the reader and writer interfaces.
type SessionStore interface {
	SessionReader
	SessionWriter
}
