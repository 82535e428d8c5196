package storage

import (
	"context"
	"time"

	"github.com/advisr/consult-billing/pkg/models"
)

// ReservationStore defines the interface for engine-internal balance holds.
// Reservations are not ledger entries; they exist only to prevent a second
// session from allocating funds already earmarked for an in-flight one.
type ReservationStore interface {
	// PutReservation creates or replaces a reservation.
	PutReservation(ctx context.Context, reservation *models.Reservation) error

	// GetReservation retrieves a reservation by its ID.
	GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error)

	// DeleteReservation removes a reservation (released or consumed).
	DeleteReservation(ctx context.Context, reservationID string) error

	// ListReservationsByAccount retrieves all reservations held against an
	// account.
	ListReservationsByAccount(ctx context.Context, accountID string) ([]models.Reservation, error)

	// ListExpiredReservations retrieves reservations whose TTL lapsed
	// before the given cutoff. Used by the recovery sweep.
	ListExpiredReservations(ctx context.Context, cutoff time.Time) ([]models.Reservation, error)
}
