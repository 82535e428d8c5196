package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/scheduler"
	"github.com/advisr/consult-billing/pkg/websockets"
)

// restartedEngine builds a second engine on the same store and clock, as if
// the process restarted with no in-memory session state.
func restartedEngine(f *fixture) *Engine {
	return New(f.store, f.wallet, f.clk, websockets.NewHub(), nil, nil, nil, f.engine.logger, f.engine.cfg)
}

func TestRecoverOrphanedActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.recharge(t, "acct-1", 50000)

	session, err := f.engine.StartSession(ctx, "acct-1", "exp-1", 1500)
	require.NoError(t, err)
	stream, cancel, err := f.engine.SubscribeTicks(ctx, session.SessionID)
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, session.SessionID)
	require.NoError(t, err)

	// Three whole minutes tick by and are durably recorded, then the
	// process dies.
	f.clk.Advance(3 * time.Minute)
	awaitMessage(t, f, stream, websockets.MessageTypeTick)
	cancel()

	stored, err := f.store.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	require.Equal(t, int64(4500), stored.AccruedCost)

	// Wall time keeps moving while nobody is metering; none of it may be
	// billed.
	f.clk.Set(t0.Add(2 * time.Hour))

	recovered := restartedEngine(f)
	require.NoError(t, recovered.Recover(ctx))

	receipt, err := f.store.GetReceiptBySession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(180), receipt.DurationSeconds)
	assert.Equal(t, int64(4500), receipt.FinalCost)
	assert.Equal(t, models.EndCauseTimeout, receipt.EndCause)

	balance, err := f.wallet.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(45500), balance)

	got, err := f.store.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SETTLED, got.Status)

	t.Run("Second Pass Is A No-Op", func(t *testing.T) {
		require.NoError(t, recovered.Recover(ctx))

		entries, err := f.store.ListEntriesByAccount(ctx, "acct-1", 0)
		require.NoError(t, err)
		var debits int
		for _, e := range entries {
			if e.Kind == models.DEBIT {
				debits++
			}
		}
		assert.Equal(t, 1, debits)
	})
}

func TestRecoverEndingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.recharge(t, "acct-1", 50000)

	session, err := f.engine.StartSession(ctx, "acct-1", "exp-1", 1500)
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, session.SessionID)
	require.NoError(t, err)

	// Simulate a crash between the ending transition and the debit: flip
	// the session to ENDING by hand with frozen accrual values.
	now := f.clk.Now()
	crashed, err := f.store.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	crashed.Status = models.ENDING
	crashed.ElapsedSeconds = 120
	crashed.AccruedCost = 3000
	crashed.EndCause = models.EndCauseUser
	crashed.EndedAt = &now
	require.NoError(t, f.store.TransitionSession(ctx, crashed, models.ACTIVE))

	recovered := restartedEngine(f)
	require.NoError(t, recovered.Recover(ctx))

	receipt, err := f.store.GetReceiptBySession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), receipt.FinalCost)
	assert.False(t, receipt.Partial)

	got, err := f.store.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SETTLED, got.Status)

	balance, err := f.wallet.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(47000), balance)
}

func TestHandleReservationExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("Expired Pending Session Is Aborted", func(t *testing.T) {
		f := newFixture(t, Config{ReservationTTL: 15 * time.Minute})
		f.recharge(t, "acct-1", 3000)

		session, err := f.engine.StartSession(ctx, "acct-1", "exp-1", 1500)
		require.NoError(t, err)

		f.clk.Advance(16 * time.Minute)
		require.NoError(t, f.engine.HandleTask(ctx, scheduler.Task{
			Kind:          scheduler.TaskReservationExpiry,
			SessionID:     session.SessionID,
			ReservationID: session.ReservationID,
			AccountID:     "acct-1",
		}))

		got, err := f.engine.GetSession(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ABORTED, got.Status)

		available, err := f.wallet.Available(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3000), available)
	})

	t.Run("Early Fire Leaves Session Alone", func(t *testing.T) {
		f := newFixture(t, Config{ReservationTTL: 15 * time.Minute})
		f.recharge(t, "acct-1", 3000)

		session, err := f.engine.StartSession(ctx, "acct-1", "exp-1", 1500)
		require.NoError(t, err)

		f.clk.Advance(5 * time.Minute)
		require.NoError(t, f.engine.HandleTask(ctx, scheduler.Task{
			Kind:          scheduler.TaskReservationExpiry,
			SessionID:     session.SessionID,
			ReservationID: session.ReservationID,
			AccountID:     "acct-1",
		}))

		got, err := f.engine.GetSession(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.PENDING, got.Status)
	})

	t.Run("Accepted Session Is Never Expired", func(t *testing.T) {
		f := newFixture(t, Config{ReservationTTL: 15 * time.Minute})
		f.recharge(t, "acct-1", 50000)

		session, err := f.engine.StartSession(ctx, "acct-1", "exp-1", 1500)
		require.NoError(t, err)
		_, err = f.engine.Accept(ctx, session.SessionID)
		require.NoError(t, err)

		f.clk.Advance(16 * time.Minute)
		require.NoError(t, f.engine.HandleTask(ctx, scheduler.Task{
			Kind:          scheduler.TaskReservationExpiry,
			SessionID:     session.SessionID,
			ReservationID: session.ReservationID,
			AccountID:     "acct-1",
		}))

		got, err := f.engine.GetSession(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.ACTIVE, got.Status)
	})
}

func TestHandleForceSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.recharge(t, "acct-1", 50000)

	session, err := f.engine.StartSession(ctx, "acct-1", "exp-1", 1500)
	require.NoError(t, err)
	_, err = f.engine.Accept(ctx, session.SessionID)
	require.NoError(t, err)

	require.NoError(t, f.engine.HandleTask(ctx, scheduler.Task{
		Kind:      scheduler.TaskForceSettle,
		SessionID: session.SessionID,
	}))

	got, err := f.engine.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SETTLED, got.Status)

	t.Run("Missing Session Is Ignored", func(t *testing.T) {
		assert.NoError(t, f.engine.HandleTask(ctx, scheduler.Task{
			Kind:      scheduler.TaskForceSettle,
			SessionID: "missing",
		}))
	})
}
