// Package memory provides an in-memory implementation of the storage
// interfaces. It backs unit tests and local development runs; the DynamoDB
// implementation is the durable production store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

// Store implements the Storage interface entirely in memory.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]models.Account
	entries      map[string][]models.LedgerEntry // accountID -> append order
	entryIDs     map[string]struct{}
	sessions     map[string]models.Session
	receipts     map[string]models.Receipt
	bySession    map[string]string // sessionID -> receiptID
	reservations map[string]models.Reservation
	connections  map[string]string // connectionID -> sessionID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		entries:      make(map[string][]models.LedgerEntry),
		entryIDs:     make(map[string]struct{}),
		sessions:     make(map[string]models.Session),
		receipts:     make(map[string]models.Receipt),
		bySession:    make(map[string]string),
		reservations: make(map[string]models.Reservation),
		connections:  make(map[string]string),
	}
}

// Make sure we conform to the interface.
var _ storage.Storage = (*Store)(nil)

// GetAccount retrieves an account by its ID.
func (s *Store) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &acc, nil
}

// CreateAccount creates a new account.
func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.AccountID]; ok {
		return storage.ErrConflict
	}
	s.accounts[account.AccountID] = *account
	return nil
}

// UpdateAccount persists the account conditionally on its stored version.
func (s *Store) UpdateAccount(_ context.Context, account *models.Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[account.AccountID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != expectedVersion {
		return storage.ErrConflict
	}
	s.accounts[account.AccountID] = *account
	return nil
}

// ListAccounts retrieves all accounts.
func (s *Store) ListAccounts(_ context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// AppendEntry appends an immutable ledger entry.
func (s *Store) AppendEntry(_ context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entryIDs[entry.EntryID]; ok {
		return storage.ErrConflict
	}
	s.entryIDs[entry.EntryID] = struct{}{}
	s.entries[entry.AccountID] = append(s.entries[entry.AccountID], *entry)
	return nil
}

// ListEntriesByAccount retrieves an account's entries, oldest first.
func (s *Store) ListEntriesByAccount(_ context.Context, accountID string, limit int32) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[accountID]
	if limit > 0 && int(limit) < len(entries) {
		entries = entries[len(entries)-int(limit):]
	}
	out := make([]models.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// GetSession retrieves a session by its ID.
func (s *Store) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

// ListSessionsByAccount retrieves all sessions for an account.
func (s *Store) ListSessionsByAccount(_ context.Context, accountID string) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.AccountID == accountID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListSessionsByStatus retrieves every session in the given status.
func (s *Store) ListSessionsByStatus(_ context.Context, status models.SessionStatus) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateSession persists a new session.
func (s *Store) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SessionID]; ok {
		return storage.ErrConflict
	}
	s.sessions[session.SessionID] = *session
	return nil
}

// TransitionSession writes the session conditionally on its stored status.
func (s *Store) TransitionSession(_ context.Context, session *models.Session, from models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.SessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Status != from {
		return storage.ErrInvalidTransition
	}
	s.sessions[session.SessionID] = *session
	return nil
}

// RecordProgress durably records a session's last observed tick.
func (s *Store) RecordProgress(_ context.Context, sessionID string, elapsedSeconds, accruedCost int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.Status != models.ACTIVE || elapsedSeconds < sess.ElapsedSeconds {
		return storage.ErrInvalidTransition
	}
	sess.ElapsedSeconds = elapsedSeconds
	sess.AccruedCost = accruedCost
	s.sessions[sessionID] = sess
	return nil
}

// CreateReceipt persists a receipt, one per session.
func (s *Store) CreateReceipt(_ context.Context, receipt *models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[receipt.ReceiptID]; ok {
		return storage.ErrConflict
	}
	if _, ok := s.bySession[receipt.SessionID]; ok {
		return storage.ErrConflict
	}
	s.receipts[receipt.ReceiptID] = *receipt
	s.bySession[receipt.SessionID] = receipt.ReceiptID
	return nil
}

// GetReceipt retrieves a receipt by its ID.
func (s *Store) GetReceipt(_ context.Context, receiptID string) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.receipts[receiptID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

// GetReceiptBySession retrieves the receipt for a settled session.
func (s *Store) GetReceiptBySession(_ context.Context, sessionID string) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	rec := s.receipts[id]
	return &rec, nil
}

// AttachRating attaches a write-once rating to a receipt.
func (s *Store) AttachRating(_ context.Context, receiptID string, rating int) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.receipts[receiptID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if rec.Rating != nil {
		return nil, storage.ErrRatingAttached
	}
	rec.Rating = &rating
	s.receipts[receiptID] = rec
	return &rec, nil
}

// PutReservation creates or replaces a reservation.
func (s *Store) PutReservation(_ context.Context, reservation *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[reservation.ReservationID] = *reservation
	return nil
}

// GetReservation retrieves a reservation by its ID.
func (s *Store) GetReservation(_ context.Context, reservationID string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.reservations[reservationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &res, nil
}

// DeleteReservation removes a reservation.
func (s *Store) DeleteReservation(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, reservationID)
	return nil
}

// ListReservationsByAccount retrieves an account's reservations.
func (s *Store) ListReservationsByAccount(_ context.Context, accountID string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reservation
	for _, res := range s.reservations {
		if res.AccountID == accountID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListExpiredReservations retrieves reservations expired before the cutoff.
func (s *Store) ListExpiredReservations(_ context.Context, cutoff time.Time) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reservation
	for _, res := range s.reservations {
		if res.ExpiresAt.Before(cutoff) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// AddConnection registers a websocket connection for a session's stream.
func (s *Store) AddConnection(_ context.Context, sessionID, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionID] = sessionID
	return nil
}

// RemoveConnection removes a websocket connection.
func (s *Store) RemoveConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connectionID)
	return nil
}

// GetSessionConnections retrieves the connections subscribed to a session.
func (s *Store) GetSessionConnections(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for connID, sessID := range s.connections {
		if sessID == sessionID {
			out = append(out, connID)
		}
	}
	sort.Strings(out)
	return out, nil
}
