package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/advisr/consult-billing/pkg/api"
	"github.com/advisr/consult-billing/pkg/ledger"
	"github.com/advisr/consult-billing/pkg/mapping"
	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

// SessionService is the slice of the billing engine the session handlers
// need.
type SessionService interface {
	StartSession(ctx context.Context, accountID, expertID string, ratePerMinute int64) (*models.Session, error)
	Accept(ctx context.Context, sessionID string) (*models.Session, error)
	Cancel(ctx context.Context, sessionID string) (*models.Receipt, error)
	RequestEnd(ctx context.Context, sessionID string, cause models.EndCause) (*models.Receipt, error)
	Heartbeat(ctx context.Context, sessionID string) error
	TopUpSession(ctx context.Context, sessionID string, amount int64) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// SessionsHandler holds the dependencies for session-related handlers.
type SessionsHandler struct {
	Engine SessionService
}

// NewSessionsHandler creates a new SessionsHandler.
func NewSessionsHandler(engine SessionService) *SessionsHandler {
	return &SessionsHandler{Engine: engine}
}

// CreateSession handles the logic for requesting a new consultation session.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var newSession api.NewSession
	if err := json.NewDecoder(r.Body).Decode(&newSession); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	session, err := h.Engine.StartSession(r.Context(), newSession.AccountID, newSession.ExpertID, newSession.RatePerMinute)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			http.Error(w, "Insufficient funds", http.StatusUnprocessableEntity)
			return
		}
		slog.Error("failed to create session", "error", err)
		http.Error(w, fmt.Sprintf("Failed to create session: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, mapping.ToApiSession(session))
}

// GetSessionById handles the logic for retrieving a session by its ID.
func (h *SessionsHandler) GetSessionById(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.Engine.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve session: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiSession(session))
}

// AcceptSession handles the expert picking up a pending session.
func (h *SessionsHandler) AcceptSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.Engine.Accept(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, "Session is not pending", http.StatusConflict)
		case errors.Is(err, ledger.ErrReservationExpired):
			http.Error(w, "Reservation expired, restart the session", http.StatusGone)
		default:
			slog.Error("failed to accept session", "session_id", sessionID, "error", err)
			http.Error(w, fmt.Sprintf("Failed to accept session: %v", err), http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiSession(session))
}

// EndSession terminates a session and responds with its receipt. Safe to
// retry; a repeat call returns the same receipt.
func (h *SessionsHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var body api.EndSession
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}

	receipt, err := h.Engine.RequestEnd(r.Context(), sessionID, mapping.ToDomainEndCause(body.Cause))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to end session", "session_id", sessionID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to end session: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiReceipt(receipt))
}

// CancelSession aborts a session that was never accepted.
func (h *SessionsHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	receipt, err := h.Engine.Cancel(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, "Session is not pending", http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Failed to cancel session: %v", err), http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiReceipt(receipt))
}

// Heartbeat records transport liveness for an active session.
func (h *SessionsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.Engine.Heartbeat(r.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, "Session is not active", http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Failed to record heartbeat: %v", err), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TopUpSession grows an active session's reservation after a recharge.
func (h *SessionsHandler) TopUpSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var body api.TopUp
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Amount <= 0 {
		http.Error(w, "Top-up amount must be positive", http.StatusBadRequest)
		return
	}

	session, err := h.Engine.TopUpSession(r.Context(), sessionID, body.Amount)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, "Session is not active", http.StatusConflict)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			http.Error(w, "Insufficient funds", http.StatusUnprocessableEntity)
		default:
			http.Error(w, fmt.Sprintf("Failed to top up session: %v", err), http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiSession(session))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
