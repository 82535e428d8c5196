// Package engine owns the session lifecycle: pending sessions reserve
// funds, active sessions accrue cost on every clock tick, and termination
// settles exactly one debit regardless of how many callers race to end the
// session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisr/consult-billing/pkg/accrual"
	"github.com/advisr/consult-billing/pkg/clock"
	"github.com/advisr/consult-billing/pkg/ledger"
	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/scheduler"
	"github.com/advisr/consult-billing/pkg/settlement"
	"github.com/advisr/consult-billing/pkg/storage"
	"github.com/advisr/consult-billing/pkg/transport"
	"github.com/advisr/consult-billing/pkg/websockets"
)

// ErrInvalidTransition is returned when an operation is illegal for the
// session's current status. Surfaced to the caller, never retried
// automatically.
var ErrInvalidTransition = storage.ErrInvalidTransition

// Config carries the engine's tunables. The zero value gets defaults; the
// exact numbers are product decisions, not correctness requirements.
type Config struct {
	// MinReservationMinutes is the minimum billable runway a session must
	// reserve before it may start.
	MinReservationMinutes int64

	// LowBalanceThreshold is the remaining-runway estimate at or below
	// which a low-balance warning is emitted.
	LowBalanceThreshold time.Duration

	// ReservationTTL bounds how long a pending session's hold survives
	// without being confirmed.
	ReservationTTL time.Duration

	// ConnectivityTimeout ends a session whose transport stopped
	// heartbeating. Zero disables the check.
	ConnectivityTimeout time.Duration

	// TickInterval is the live-display tick cadence. Billing itself only
	// changes on minute boundaries.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinReservationMinutes <= 0 {
		c.MinReservationMinutes = 1
	}
	if c.LowBalanceThreshold <= 0 {
		c.LowBalanceThreshold = 120 * time.Second
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = 15 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// runtime is the in-process state of one live session. Its mutex is the
// per-session serialization boundary that makes RequestEnd idempotent under
// concurrent callers.
type runtime struct {
	mu       sync.Mutex
	session  *models.Session
	meter    *accrual.Meter
	cancel   context.CancelFunc
	lastSeen time.Time
	receipt  *models.Receipt
}

// Engine coordinates the wallet ledger, the accrual meters and the session
// store.
type Engine struct {
	store    storage.EngineStore
	wallet   *ledger.Ledger
	clk      clock.Clock
	hub      *websockets.Hub
	pub      websockets.Publisher
	sched    scheduler.Scheduler
	listener transport.LifecycleListener
	logger   *slog.Logger
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*runtime
}

// New creates an Engine. pub may be nil when the in-process hub is the only
// subscriber transport; listener may be nil when no chat transport is wired.
func New(store storage.EngineStore, wallet *ledger.Ledger, clk clock.Clock, hub *websockets.Hub, pub websockets.Publisher, sched scheduler.Scheduler, listener transport.LifecycleListener, logger *slog.Logger, cfg Config) *Engine {
	if hub == nil {
		hub = websockets.NewHub()
	}
	if sched == nil {
		sched = scheduler.NoOpScheduler{}
	}
	if listener == nil {
		listener = transport.NoOpListener{}
	}
	return &Engine{
		store:    store,
		wallet:   wallet,
		clk:      clk,
		hub:      hub,
		pub:      pub,
		sched:    sched,
		listener: listener,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*runtime),
	}
}

// StartSession creates a pending session after earmarking the account's
// available balance for it. The whole available balance is held so a second
// session cannot allocate funds this one may still accrue into; the hold
// requires headroom for the minimum runway plus the next rounded-up minute.
func (e *Engine) StartSession(ctx context.Context, accountID, expertID string, ratePerMinute int64) (*models.Session, error) {
	if ratePerMinute <= 0 {
		return nil, fmt.Errorf("rate per minute must be positive, got %d", ratePerMinute)
	}

	available, err := e.wallet.Available(ctx, accountID)
	if err != nil {
		return nil, err
	}
	required := ratePerMinute * (e.cfg.MinReservationMinutes + 1)
	if available < required {
		return nil, ledger.ErrInsufficientFunds
	}

	res, err := e.wallet.Reserve(ctx, accountID, available, e.cfg.ReservationTTL)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	session := &models.Session{
		SessionID:      uuid.New().String(),
		AccountID:      accountID,
		ExpertID:       expertID,
		RatePerMinute:  ratePerMinute,
		ReservationID:  res.ReservationID,
		ReservedAmount: res.Amount,
		Status:         models.PENDING,
		CreatedAt:      now,
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		if relErr := e.wallet.ReleaseReservation(ctx, res.ReservationID); relErr != nil {
			e.logger.Error("failed to release reservation after session create failure",
				"reservation_id", res.ReservationID, "error", relErr)
		}
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if err := e.sched.Schedule(ctx, scheduler.Task{
		Kind:          scheduler.TaskReservationExpiry,
		SessionID:     session.SessionID,
		ReservationID: res.ReservationID,
		AccountID:     accountID,
	}, e.cfg.ReservationTTL); err != nil {
		e.logger.Error("failed to schedule reservation expiry", "session_id", session.SessionID, "error", err)
	}

	e.mu.Lock()
	e.sessions[session.SessionID] = &runtime{session: session}
	e.mu.Unlock()

	e.logger.Info("session created",
		"session_id", session.SessionID,
		"account_id", accountID,
		"expert_id", expertID,
		"rate_per_minute", ratePerMinute,
		"reserved", res.Amount,
	)
	return session, nil
}

// Accept moves a pending session to active when the expert picks it up.
// It records startedAt and begins the tick subscription.
func (e *Engine) Accept(ctx context.Context, sessionID string) (*models.Session, error) {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.session.Status != models.PENDING {
		return nil, ErrInvalidTransition
	}

	now := e.clk.Now()

	// The hold must survive the consultation itself from here on; an
	// expired hold means the caller has to restart the flow.
	if err := e.wallet.ExtendReservation(ctx, rt.session.ReservationID, now.Add(24*time.Hour)); err != nil {
		if errors.Is(err, ledger.ErrReservationExpired) || errors.Is(err, storage.ErrNotFound) {
			e.abortLocked(ctx, rt, models.EndCauseTimeout)
			return nil, ledger.ErrReservationExpired
		}
		return nil, err
	}

	session := *rt.session
	session.Status = models.ACTIVE
	session.StartedAt = &now
	if err := e.store.TransitionSession(ctx, &session, models.PENDING); err != nil {
		return nil, err
	}
	rt.session = &session
	rt.meter = accrual.NewMeter(session.RatePerMinute, now, session.ReservedAmount, e.cfg.LowBalanceThreshold)
	rt.lastSeen = now

	loopCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	go e.runTicks(loopCtx, rt, sessionID)

	go e.listener.SessionActive(context.WithoutCancel(ctx), sessionID)

	e.logger.Info("session active", "session_id", sessionID, "started_at", now)
	return &session, nil
}

// Cancel aborts a session that never became active. The hold is released
// and no ledger entry is written.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (*models.Receipt, error) {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.receipt != nil && rt.session.Terminal() {
		return rt.receipt, nil
	}
	if rt.session.Status != models.PENDING {
		return nil, ErrInvalidTransition
	}
	return e.abortLocked(ctx, rt, models.EndCauseUser)
}

// RequestEnd terminates a session. Idempotent: retries, concurrent callers
// and races with the exhausted-balance signal all resolve to one settlement
// and observe the same receipt.
func (e *Engine) RequestEnd(ctx context.Context, sessionID string, cause models.EndCause) (*models.Receipt, error) {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	// Loser of a termination race observes the winner's receipt.
	if rt.receipt != nil {
		return rt.receipt, nil
	}
	if rt.session.Terminal() {
		receipt, err := e.store.GetReceiptBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		rt.receipt = receipt
		return receipt, nil
	}

	if rt.session.Status == models.PENDING {
		return e.abortLocked(ctx, rt, cause)
	}

	return e.settleLocked(ctx, rt, cause)
}

// Heartbeat records transport liveness for the connectivity timeout.
func (e *Engine) Heartbeat(ctx context.Context, sessionID string) error {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.session.Status != models.ACTIVE {
		return ErrInvalidTransition
	}
	rt.lastSeen = e.clk.Now()
	return nil
}

// TopUpSession grows an active session's reservation after a recharge, so
// the accrual meter's runway reflects the new funds.
func (e *Engine) TopUpSession(ctx context.Context, sessionID string, amount int64) (*models.Session, error) {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.session.Status != models.ACTIVE {
		return nil, ErrInvalidTransition
	}
	if _, err := e.wallet.TopUpReservation(ctx, rt.session.ReservationID, amount); err != nil {
		return nil, err
	}
	rt.meter.TopUp(amount)

	session := *rt.session
	session.ReservedAmount += amount
	if err := e.store.TransitionSession(ctx, &session, models.ACTIVE); err != nil {
		return nil, err
	}
	rt.session = &session

	e.logger.Info("session reservation topped up", "session_id", sessionID, "amount", amount)
	return &session, nil
}

// SubscribeTicks opens a live stream of accrual updates for a session.
// The stream is restartable and cancellable; closing it does not end the
// session. Subscribing to an already-settled session immediately delivers
// the terminal receipt message.
func (e *Engine) SubscribeTicks(ctx context.Context, sessionID string) (<-chan websockets.Message, func(), error) {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	ch, cancel := e.hub.Subscribe(sessionID)

	rt.mu.Lock()
	receipt := rt.receipt
	terminal := rt.session.Terminal()
	rt.mu.Unlock()

	if terminal {
		if receipt == nil {
			receipt, err = e.store.GetReceiptBySession(ctx, sessionID)
			if err != nil {
				cancel()
				return nil, nil, err
			}
		}
		_ = e.hub.Publish(ctx, sessionID, websockets.ReceiptMessage(receipt))
	}
	return ch, cancel, nil
}

// GetSession retrieves a session's current state.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	rt, err := e.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	session := *rt.session
	if rt.meter != nil && session.Status == models.ACTIVE {
		last := rt.meter.Last()
		if last.ElapsedSeconds > session.ElapsedSeconds {
			session.ElapsedSeconds = last.ElapsedSeconds
			session.AccruedCost = last.AccruedCost
		}
	}
	return &session, nil
}

// runtimeFor returns the in-process runtime for a session, hydrating it
// from the store after a restart.
func (e *Engine) runtimeFor(ctx context.Context, sessionID string) (*runtime, error) {
	e.mu.Lock()
	rt, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if ok {
		return rt, nil
	}

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if rt, ok := e.sessions[sessionID]; ok {
		return rt, nil
	}
	rt = &runtime{session: session}
	e.sessions[sessionID] = rt
	return rt, nil
}

// runTicks drives one active session's accrual. It exits when the session
// terminates or the loop context is cancelled; a tick that arrives after
// termination is discarded by status, not sequence, so reordering is safe.
func (e *Engine) runTicks(ctx context.Context, rt *runtime, sessionID string) {
	ticks := e.clk.Tick(ctx, e.cfg.TickInterval)
	var lastPersisted int64

	for now := range ticks {
		rt.mu.Lock()
		if rt.session.Status != models.ACTIVE {
			rt.mu.Unlock()
			return
		}
		update := rt.meter.Observe(now)
		stale := e.cfg.ConnectivityTimeout > 0 && now.Sub(rt.lastSeen) > e.cfg.ConnectivityTimeout
		rt.mu.Unlock()

		// Durable tick: persist when the owed amount crosses a minute
		// boundary so a crash can never re-accrue time.
		if update.AccruedCost > lastPersisted {
			if err := e.store.RecordProgress(ctx, sessionID, update.ElapsedSeconds, update.AccruedCost); err != nil {
				e.logger.Error("failed to record session progress", "session_id", sessionID, "error", err)
			} else {
				lastPersisted = update.AccruedCost
			}
		}

		e.publish(ctx, sessionID, websockets.TickMessage(sessionID, update))

		if update.Signal == accrual.SignalLowBalance {
			e.logger.Info("session low balance",
				"session_id", sessionID,
				"remaining_estimate_seconds", update.RemainingEstimateSeconds)
		}

		switch {
		case update.Signal == accrual.SignalExhausted:
			e.endFromLoop(sessionID, models.EndCauseExhausted)
			return
		case stale:
			e.endFromLoop(sessionID, models.EndCauseTimeout)
			return
		}
	}
}

func (e *Engine) endFromLoop(sessionID string, cause models.EndCause) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()
	if _, err := e.RequestEnd(ctx, sessionID, cause); err != nil {
		e.logger.Error("failed to force-end session", "session_id", sessionID, "cause", cause, "error", err)
	}
}

// abortLocked moves a pending session straight to aborted. Caller holds
// rt.mu.
func (e *Engine) abortLocked(ctx context.Context, rt *runtime, cause models.EndCause) (*models.Receipt, error) {
	now := e.clk.Now()
	session := *rt.session
	session.Status = models.ABORTED
	session.EndCause = cause
	session.EndedAt = &now

	if err := e.store.TransitionSession(ctx, &session, models.PENDING); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// A concurrent caller won; surface its receipt.
			receipt, rerr := e.store.GetReceiptBySession(ctx, session.SessionID)
			if rerr == nil {
				rt.receipt = receipt
				return receipt, nil
			}
		}
		return nil, err
	}
	if err := e.wallet.ReleaseReservation(ctx, session.ReservationID); err != nil {
		e.logger.Error("failed to release reservation on abort",
			"session_id", session.SessionID, "reservation_id", session.ReservationID, "error", err)
	}

	receipt := settlement.BuildAborted(&session, now)
	if err := e.store.CreateReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("failed to persist abort receipt: %w", err)
	}

	rt.session = &session
	rt.receipt = receipt
	if rt.cancel != nil {
		rt.cancel()
	}

	go e.listener.SessionClosed(context.WithoutCancel(ctx), session.SessionID)
	e.logger.Info("session aborted", "session_id", session.SessionID, "cause", cause)
	return receipt, nil
}

// settleLocked runs the full termination path for an active session:
// freeze, transition to ending, one debit, receipt, transition to settled.
// Caller holds rt.mu.
func (e *Engine) settleLocked(ctx context.Context, rt *runtime, cause models.EndCause) (*models.Receipt, error) {
	now := e.clk.Now()
	session := *rt.session

	// Freeze elapsed/accrued at the last-known tick; never recompute from
	// the current clock, so termination bills only observed time. A
	// runtime rebuilt after a restart has no meter; its last durable tick
	// is already on the session record.
	if rt.meter != nil {
		frozen := rt.meter.Last()
		if frozen.ObservedAt.IsZero() {
			frozen = rt.meter.Observe(now)
		}
		session.ElapsedSeconds = frozen.ElapsedSeconds
		session.AccruedCost = frozen.AccruedCost
	}
	if session.AccruedCost == 0 {
		// At-least-one-minute policy: an accepted consultation is never
		// free even if it ends within the first tick.
		session.AccruedCost = session.RatePerMinute
	}
	session.Status = models.ENDING
	session.EndCause = cause
	session.EndedAt = &now

	if err := e.store.TransitionSession(ctx, &session, models.ACTIVE); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			receipt, rerr := e.store.GetReceiptBySession(ctx, session.SessionID)
			if rerr == nil {
				rt.receipt = receipt
				return receipt, nil
			}
		}
		return nil, err
	}
	rt.session = &session
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	go e.listener.SessionEnding(context.WithoutCancel(ctx), session.SessionID)

	entry, partial, err := e.wallet.ConsumeReservation(ctx, session.ReservationID, session.AccountID,
		session.AccruedCost, settlement.Reason(session.SessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to settle session %s: %w", session.SessionID, err)
	}

	receipt := settlement.Build(&session, entry, partial, now)
	if err := e.store.CreateReceipt(ctx, receipt); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Another process settled first; its receipt wins.
			existing, rerr := e.store.GetReceiptBySession(ctx, session.SessionID)
			if rerr == nil {
				rt.receipt = existing
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to persist receipt: %w", err)
	}

	settled := session
	settled.Status = models.SETTLED
	if err := e.store.TransitionSession(ctx, &settled, models.ENDING); err != nil {
		e.logger.Error("receipt persisted but settled transition failed",
			"session_id", session.SessionID, "error", err)
	} else {
		session = settled
	}
	rt.session = &session
	rt.receipt = receipt

	e.publish(ctx, session.SessionID, websockets.ReceiptMessage(receipt))
	go e.listener.SessionClosed(context.WithoutCancel(ctx), session.SessionID)

	e.logger.Info("session settled",
		"session_id", session.SessionID,
		"cause", cause,
		"duration_seconds", receipt.DurationSeconds,
		"final_cost", receipt.FinalCost,
		"partial", receipt.Partial,
	)
	return receipt, nil
}

// publish fans a message out to the in-process hub and, when configured,
// the external publisher. The hub never blocks; the external push runs on
// its own goroutine so no session lock is ever held across network I/O.
func (e *Engine) publish(ctx context.Context, sessionID string, msg websockets.Message) {
	if err := e.hub.Publish(ctx, sessionID, msg); err != nil {
		e.logger.Error("failed to publish to hub", "session_id", sessionID, "error", err)
	}
	if e.pub != nil {
		pubCtx := context.WithoutCancel(ctx)
		go func() {
			ctx, cancel := context.WithTimeout(pubCtx, 10*time.Second)
			defer cancel()
			if err := e.pub.Publish(ctx, sessionID, msg); err != nil {
				e.logger.Error("failed to publish to websocket transport", "session_id", sessionID, "error", err)
			}
		}()
	}
}
