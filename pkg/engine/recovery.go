package engine

import (
	"context"
	"errors"

	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/scheduler"
	"github.com/advisr/consult-billing/pkg/settlement"
	"github.com/advisr/consult-billing/pkg/storage"
)

// Recover settles every session left without a terminal record by a crash.
// Each is resumed into ending and settled at its last durably recorded
// tick; no additional time is ever re-accrued. Safe to run repeatedly: the
// conditional status transition under settlement makes a second pass a
// no-op.
func (e *Engine) Recover(ctx context.Context) error {
	for _, status := range []models.SessionStatus{models.ACTIVE, models.ENDING} {
		sessions, err := e.store.ListSessionsByStatus(ctx, status)
		if err != nil {
			return err
		}
		for i := range sessions {
			session := sessions[i]
			if err := e.recoverSession(ctx, &session); err != nil {
				e.logger.Error("failed to recover session", "session_id", session.SessionID, "error", err)
			}
		}
	}

	return e.releaseExpiredReservations(ctx)
}

// HandleTask processes a scheduled follow-up fired by the queue.
func (e *Engine) HandleTask(ctx context.Context, task scheduler.Task) error {
	switch task.Kind {
	case scheduler.TaskReservationExpiry:
		return e.expirePendingSession(ctx, task)
	case scheduler.TaskForceSettle:
		_, err := e.RequestEnd(ctx, task.SessionID, models.EndCauseTimeout)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	default:
		e.logger.Error("unknown scheduled task", "kind", string(task.Kind))
		return nil
	}
}

func (e *Engine) recoverSession(ctx context.Context, session *models.Session) error {
	switch session.Status {
	case models.ACTIVE:
		receipt, err := e.RequestEnd(ctx, session.SessionID, models.EndCauseTimeout)
		if err != nil {
			return err
		}
		e.logger.Info("recovered orphaned session",
			"session_id", session.SessionID,
			"duration_seconds", receipt.DurationSeconds,
			"final_cost", receipt.FinalCost)
		return nil
	case models.ENDING:
		// Crashed between the ending transition and settlement. If a
		// receipt exists only the settled flip was lost; otherwise the
		// debit itself is still owed.
		receipt, err := e.store.GetReceiptBySession(ctx, session.SessionID)
		if err == nil {
			settled := *session
			settled.Status = models.SETTLED
			if terr := e.store.TransitionSession(ctx, &settled, models.ENDING); terr != nil {
				return terr
			}
			e.logger.Info("re-applied settled transition", "session_id", session.SessionID, "receipt_id", receipt.ReceiptID)
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return e.settleEnding(ctx, session)
	default:
		return nil
	}
}

// settleEnding finishes an interrupted settlement using the frozen values
// already on the session record.
func (e *Engine) settleEnding(ctx context.Context, session *models.Session) error {
	rt, err := e.runtimeFor(ctx, session.SessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.receipt != nil {
		return nil
	}
	cost := session.AccruedCost
	if cost == 0 {
		cost = session.RatePerMinute
	}

	entry, partial, err := e.wallet.ConsumeReservation(ctx, session.ReservationID, session.AccountID,
		cost, settlement.Reason(session.SessionID))
	if err != nil {
		return err
	}
	receipt := settlement.Build(session, entry, partial, e.clk.Now())
	if err := e.store.CreateReceipt(ctx, receipt); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		return err
	}

	settled := *session
	settled.Status = models.SETTLED
	if err := e.store.TransitionSession(ctx, &settled, models.ENDING); err != nil {
		return err
	}
	rt.session = &settled
	rt.receipt = receipt
	e.logger.Info("recovered interrupted settlement",
		"session_id", session.SessionID, "final_cost", receipt.FinalCost, "partial", receipt.Partial)
	return nil
}

// expirePendingSession aborts a session whose hold lapsed before the
// expert accepted. A session that became active in the meantime is left
// alone.
func (e *Engine) expirePendingSession(ctx context.Context, task scheduler.Task) error {
	rt, err := e.runtimeFor(ctx, task.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return e.wallet.ReleaseReservation(ctx, task.ReservationID)
	}
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.session.Status != models.PENDING {
		return nil
	}
	res, err := e.store.GetReservation(ctx, task.ReservationID)
	if err == nil && e.clk.Now().Before(res.ExpiresAt) {
		// Fired early (clamped delay); not actually expired yet.
		return nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	_, err = e.abortLocked(ctx, rt, models.EndCauseTimeout)
	return err
}

func (e *Engine) releaseExpiredReservations(ctx context.Context) error {
	expired, err := e.store.ListExpiredReservations(ctx, e.clk.Now())
	if err != nil {
		return err
	}
	for _, res := range expired {
		if err := e.wallet.ReleaseReservation(ctx, res.ReservationID); err != nil {
			e.logger.Error("failed to release expired reservation",
				"reservation_id", res.ReservationID, "error", err)
		}
	}
	return nil
}
