package storage

import "errors"

// ErrNotFound is returned when a requested account, session, reservation or
// receipt does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a conditional write loses to a concurrent
// writer, e.g. a duplicate create or a stale account version.
var ErrConflict = errors.New("conditional write conflict")

// ErrInvalidTransition is returned when a session status update does not
// match the expected current status.
var ErrInvalidTransition = errors.New("invalid session transition")

// ErrRatingAttached is returned when a rating is attached to a receipt that
// already has one. Ratings are write-once.
var ErrRatingAttached = errors.New("rating already attached")
