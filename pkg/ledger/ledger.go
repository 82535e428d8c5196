// Package ledger owns the authoritative balance for every account. All
// mutations for one account are serialized through a per-account lock; the
// cached balance on the account record always equals the fold of its
// append-only ledger entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisr/consult-billing/pkg/clock"
	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

// ErrInsufficientFunds is returned when an account's available balance does
// not cover a requested reservation or debit. Recoverable: the caller can
// recharge and retry.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrReservationExpired is returned when a reservation's TTL lapsed before
// it was confirmed or topped up. The caller must restart the flow.
var ErrReservationExpired = errors.New("reservation expired")

// ErrAccountBusy is returned when the account's serialization queue could
// not be entered within the bounded wait. Retryable.
var ErrAccountBusy = errors.New("account queue busy")

// DefaultLockWait bounds how long a mutation waits for an account's
// serialization queue before rejecting with ErrAccountBusy.
const DefaultLockWait = 5 * time.Second

// Ledger serializes balance mutations per account and appends every change
// to the transaction log. Operations on different accounts proceed fully in
// parallel.
type Ledger struct {
	store    storage.WalletStore
	clk      clock.Clock
	lockWait time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New creates a Ledger over the given wallet store.
func New(store storage.WalletStore, clk clock.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		clk:      clk,
		lockWait: DefaultLockWait,
		logger:   logger,
		locks:    make(map[string]chan struct{}),
	}
}

// acquire enters the account's serialization queue, waiting at most
// lockWait. The returned release func must be called exactly once.
func (l *Ledger) acquire(ctx context.Context, accountID string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[accountID] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.lockWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrAccountBusy
	}
}

// GetBalance returns the account's current cached balance.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (int64, error) {
	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Available returns the balance not earmarked by unexpired reservations.
func (l *Ledger) Available(ctx context.Context, accountID string) (int64, error) {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer release()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	held, err := l.heldAmount(ctx, accountID, "")
	if err != nil {
		return 0, err
	}
	return acc.Balance - held, nil
}

// Credit appends a credit entry (recharge) and raises the cached balance.
// The account is created on its first recharge.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := l.clk.Now()
	acc, err := l.store.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		acc = &models.Account{AccountID: accountID, Version: 1, CreatedAt: now, UpdatedAt: now}
		if err := l.store.CreateAccount(ctx, acc); err != nil {
			return nil, fmt.Errorf("failed to create account %s: %w", accountID, err)
		}
	} else if err != nil {
		return nil, err
	}

	acc.Balance += amount
	return l.commit(ctx, acc, models.CREDIT, amount, reason)
}

// CommitDebit appends a debit entry and lowers the cached balance. Fails
// with ErrInsufficientFunds if the balance minus outstanding reservations
// would go negative.
func (l *Ledger) CommitDebit(ctx context.Context, accountID string, amount int64, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	held, err := l.heldAmount(ctx, accountID, "")
	if err != nil {
		return nil, err
	}
	if acc.Balance-held < amount {
		return nil, ErrInsufficientFunds
	}

	acc.Balance -= amount
	return l.commit(ctx, acc, models.DEBIT, amount, reason)
}

// Reserve earmarks funds for an in-flight session without committing a
// ledger entry. The hold auto-releases after ttl if never confirmed.
func (l *Ledger) Reserve(ctx context.Context, accountID string, amount int64, ttl time.Duration) (*models.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reservation amount must be positive, got %d", amount)
	}
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	held, err := l.heldAmount(ctx, accountID, "")
	if err != nil {
		return nil, err
	}
	if acc.Balance-held < amount {
		return nil, ErrInsufficientFunds
	}

	now := l.clk.Now()
	res := &models.Reservation{
		ReservationID: uuid.New().String(),
		AccountID:     accountID,
		Amount:        amount,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := l.store.PutReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to persist reservation: %w", err)
	}
	return res, nil
}

// TopUpReservation grows an existing hold, e.g. after a mid-session
// recharge. Fails with ErrReservationExpired if the TTL already lapsed.
func (l *Ledger) TopUpReservation(ctx context.Context, reservationID string, amount int64) (*models.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("top-up amount must be positive, got %d", amount)
	}
	res, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	release, err := l.acquire(ctx, res.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; the sweep may have raced us.
	res, err = l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if l.clk.Now().After(res.ExpiresAt) {
		return nil, ErrReservationExpired
	}

	acc, err := l.store.GetAccount(ctx, res.AccountID)
	if err != nil {
		return nil, err
	}
	held, err := l.heldAmount(ctx, res.AccountID, "")
	if err != nil {
		return nil, err
	}
	if acc.Balance-held < amount {
		return nil, ErrInsufficientFunds
	}

	res.Amount += amount
	if err := l.store.PutReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to persist reservation top-up: %w", err)
	}
	return res, nil
}

// ExtendReservation pushes a hold's expiry forward. Used when a pending
// session becomes active so the hold outlives the consultation.
func (l *Ledger) ExtendReservation(ctx context.Context, reservationID string, expiresAt time.Time) error {
	res, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	release, err := l.acquire(ctx, res.AccountID)
	if err != nil {
		return err
	}
	defer release()

	res, err = l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if l.clk.Now().After(res.ExpiresAt) {
		return ErrReservationExpired
	}
	res.ExpiresAt = expiresAt
	return l.store.PutReservation(ctx, res)
}

// ReleaseReservation drops a hold without debiting. Releasing an unknown
// reservation is a no-op so retries and the sweep cannot fail each other.
func (l *Ledger) ReleaseReservation(ctx context.Context, reservationID string) error {
	res, err := l.store.GetReservation(ctx, reservationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	release, err := l.acquire(ctx, res.AccountID)
	if err != nil {
		return err
	}
	defer release()
	return l.store.DeleteReservation(ctx, reservationID)
}

// ConsumeReservation settles a session's hold: it debits
// min(amount, funds actually available) and drops the hold in one
// serialized step. The returned partial flag is true when the debit had to
// be clipped; such shortfalls are logged for manual reconciliation, never
// hidden.
func (l *Ledger) ConsumeReservation(ctx context.Context, reservationID, accountID string, amount int64, reason string) (*models.LedgerEntry, bool, error) {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}

	// Funds held by other sessions stay out of reach; this session's own
	// hold is the one being consumed.
	heldByOthers, err := l.heldAmount(ctx, accountID, reservationID)
	if err != nil {
		return nil, false, err
	}

	debit := amount
	available := acc.Balance - heldByOthers
	if available < debit {
		debit = available
	}
	if debit < 0 {
		debit = 0
	}
	partial := debit < amount
	if partial {
		l.logger.Error("partial settlement: available balance below computed cost",
			"account_id", accountID,
			"reservation_id", reservationID,
			"computed_cost", amount,
			"debited", debit,
			"shortfall", amount-debit,
		)
	}

	if err := l.store.DeleteReservation(ctx, reservationID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to release reservation %s: %w", reservationID, err)
	}

	if debit == 0 {
		// Nothing debitable; the shortfall was already logged above.
		return nil, partial, nil
	}

	acc.Balance -= debit
	entry, err := l.commit(ctx, acc, models.DEBIT, debit, reason)
	if err != nil {
		return nil, false, err
	}
	return entry, partial, nil
}

// AuditBalance folds the account's ledger entries and compares the result
// against the cached balance.
func (l *Ledger) AuditBalance(ctx context.Context, accountID string) (cached, folded int64, err error) {
	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	entries, err := l.store.ListEntriesByAccount(ctx, accountID, 0)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		switch e.Kind {
		case models.CREDIT:
			folded += e.Amount
		case models.DEBIT:
			folded -= e.Amount
		}
	}
	return acc.Balance, folded, nil
}

// heldAmount sums the account's unexpired reservations, skipping
// excludeID. Expired holds found along the way are dropped.
func (l *Ledger) heldAmount(ctx context.Context, accountID, excludeID string) (int64, error) {
	reservations, err := l.store.ListReservationsByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	now := l.clk.Now()
	var held int64
	for _, res := range reservations {
		if res.ReservationID == excludeID {
			continue
		}
		if now.After(res.ExpiresAt) {
			if err := l.store.DeleteReservation(ctx, res.ReservationID); err != nil {
				l.logger.Error("failed to drop expired reservation", "reservation_id", res.ReservationID, "error", err)
			}
			continue
		}
		held += res.Amount
	}
	return held, nil
}

// commit appends the ledger entry and persists the new cached balance as
// one serialized step. Callers must hold the account lock.
func (l *Ledger) commit(ctx context.Context, acc *models.Account, kind models.EntryKind, amount int64, reason string) (*models.LedgerEntry, error) {
	now := l.clk.Now()
	entry := &models.LedgerEntry{
		EntryID:      uuid.New().String(),
		AccountID:    acc.AccountID,
		Kind:         kind,
		Amount:       amount,
		Reason:       reason,
		BalanceAfter: acc.Balance,
		CreatedAt:    now,
	}
	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	expected := acc.Version
	acc.Version++
	acc.UpdatedAt = now
	if err := l.store.UpdateAccount(ctx, acc, expected); err != nil {
		// The entry is durable but the cached balance write lost; surface
		// loudly so reconciliation can re-fold the account.
		l.logger.Error("ledger entry appended but balance update failed",
			"account_id", acc.AccountID, "entry_id", entry.EntryID, "error", err)
		return nil, fmt.Errorf("failed to update cached balance: %w", err)
	}
	return entry, nil
}
