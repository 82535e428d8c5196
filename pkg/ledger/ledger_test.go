package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisr/consult-billing/pkg/clock"
	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
	"github.com/advisr/consult-billing/pkg/storage/memory"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *memory.Store, *clock.Fake) {
	store := memory.New()
	clk := clock.NewFake(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, clk, logger), store, clk
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates Account On First Recharge", func(t *testing.T) {
		l, _, _ := newTestLedger()

		entry, err := l.Credit(ctx, "acct-1", 50000, "recharge")
		require.NoError(t, err)
		assert.Equal(t, models.CREDIT, entry.Kind)
		assert.Equal(t, int64(50000), entry.Amount)
		assert.Equal(t, int64(50000), entry.BalanceAfter)

		balance, err := l.GetBalance(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(50000), balance)
	})

	t.Run("Rejects Non Positive Amount", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 0, "recharge")
		assert.Error(t, err)
	})
}

func TestCommitDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 10000, "recharge")
		require.NoError(t, err)

		entry, err := l.CommitDebit(ctx, "acct-1", 4000, "session_settlement:s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(6000), entry.BalanceAfter)
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 1000, "recharge")
		require.NoError(t, err)

		_, err = l.CommitDebit(ctx, "acct-1", 1001, "session_settlement:s-1")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("Respects Outstanding Reservations", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 3000, "recharge")
		require.NoError(t, err)

		_, err = l.Reserve(ctx, "acct-1", 2000, time.Hour)
		require.NoError(t, err)

		_, err = l.CommitDebit(ctx, "acct-1", 1500, "manual")
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		_, err = l.CommitDebit(ctx, "acct-1", 1000, "manual")
		assert.NoError(t, err)
	})

	t.Run("Unknown Account", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.CommitDebit(ctx, "missing", 100, "manual")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestBalanceInvariant(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger()

	_, err := l.Credit(ctx, "acct-1", 50000, "recharge")
	require.NoError(t, err)

	ops := []struct {
		kind   models.EntryKind
		amount int64
	}{
		{models.DEBIT, 13500},
		{models.CREDIT, 2000},
		{models.DEBIT, 1500},
		{models.CREDIT, 700},
		{models.DEBIT, 40},
	}
	for _, op := range ops {
		if op.kind == models.CREDIT {
			_, err = l.Credit(ctx, "acct-1", op.amount, "recharge")
		} else {
			_, err = l.CommitDebit(ctx, "acct-1", op.amount, "settlement")
		}
		require.NoError(t, err)

		cached, folded, err := l.AuditBalance(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, folded, cached, "cached balance must equal entry fold at every observation point")
		assert.GreaterOrEqual(t, cached, int64(0))
	}
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 3000, "recharge")
		require.NoError(t, err)

		res, err := l.Reserve(ctx, "acct-1", 3000, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), res.Amount)
		assert.Equal(t, t0.Add(15*time.Minute), res.ExpiresAt)
	})

	t.Run("No Double Spend Across Sessions", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 2500, "recharge")
		require.NoError(t, err)

		_, err = l.Reserve(ctx, "acct-1", 1500, time.Hour)
		require.NoError(t, err)

		// Only 1000 remains unheld; a second one-minute hold must fail.
		_, err = l.Reserve(ctx, "acct-1", 1500, time.Hour)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("Expired Hold Frees Funds", func(t *testing.T) {
		l, _, clk := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 1500, "recharge")
		require.NoError(t, err)

		_, err = l.Reserve(ctx, "acct-1", 1500, 15*time.Minute)
		require.NoError(t, err)

		clk.Advance(16 * time.Minute)

		_, err = l.Reserve(ctx, "acct-1", 1500, 15*time.Minute)
		assert.NoError(t, err)
	})
}

func TestTopUpReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 3000, "recharge")
		require.NoError(t, err)
		res, err := l.Reserve(ctx, "acct-1", 1500, time.Hour)
		require.NoError(t, err)

		updated, err := l.TopUpReservation(ctx, res.ReservationID, 1500)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), updated.Amount)
	})

	t.Run("Expired", func(t *testing.T) {
		l, _, clk := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 3000, "recharge")
		require.NoError(t, err)
		res, err := l.Reserve(ctx, "acct-1", 1500, 15*time.Minute)
		require.NoError(t, err)

		clk.Advance(20 * time.Minute)

		_, err = l.TopUpReservation(ctx, res.ReservationID, 1500)
		assert.ErrorIs(t, err, ErrReservationExpired)
	})
}

func TestConsumeReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("Full Settlement", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 50000, "recharge")
		require.NoError(t, err)
		res, err := l.Reserve(ctx, "acct-1", 50000, time.Hour)
		require.NoError(t, err)

		entry, partial, err := l.ConsumeReservation(ctx, res.ReservationID, "acct-1", 13500, "session_settlement:s-1")
		require.NoError(t, err)
		assert.False(t, partial)
		assert.Equal(t, int64(13500), entry.Amount)
		assert.Equal(t, int64(36500), entry.BalanceAfter)

		// The hold is gone; the remainder is reservable again.
		_, err = l.Reserve(ctx, "acct-1", 36500, time.Hour)
		assert.NoError(t, err)
	})

	t.Run("Partial Settlement Clips To Available", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 5000, "recharge")
		require.NoError(t, err)
		res, err := l.Reserve(ctx, "acct-1", 5000, time.Hour)
		require.NoError(t, err)

		// Computed cost outgrew what the account still holds.
		entry, partial, err := l.ConsumeReservation(ctx, res.ReservationID, "acct-1", 9000, "session_settlement:s-1")
		require.NoError(t, err)
		assert.True(t, partial)
		assert.Equal(t, int64(5000), entry.Amount)
		assert.Equal(t, int64(0), entry.BalanceAfter)
	})

	t.Run("Balance Never Negative", func(t *testing.T) {
		l, _, _ := newTestLedger()
		_, err := l.Credit(ctx, "acct-1", 1500, "recharge")
		require.NoError(t, err)
		res, err := l.Reserve(ctx, "acct-1", 1500, time.Hour)
		require.NoError(t, err)

		entry, partial, err := l.ConsumeReservation(ctx, res.ReservationID, "acct-1", 3000, "session_settlement:s-1")
		require.NoError(t, err)
		assert.True(t, partial)
		assert.Equal(t, int64(0), entry.BalanceAfter)

		cached, folded, err := l.AuditBalance(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, folded, cached)
		assert.Equal(t, int64(0), cached)
	})
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger()

	_, err := l.Credit(ctx, "acct-1", 100000, "recharge")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CommitDebit(ctx, "acct-1", 100, "settlement")
			assert.NoError(t, err)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Credit(ctx, "acct-1", 100, "recharge")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cached, folded, err := l.AuditBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), cached)
	assert.Equal(t, folded, cached)
}
