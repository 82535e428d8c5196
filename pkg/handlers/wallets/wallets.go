package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/advisr/consult-billing/pkg/api"
	"github.com/advisr/consult-billing/pkg/mapping"
	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

// WalletService is the slice of the ledger the wallet handlers need.
type WalletService interface {
	Credit(ctx context.Context, accountID string, amount int64, reason string) (*models.LedgerEntry, error)
	Available(ctx context.Context, accountID string) (int64, error)
	AuditBalance(ctx context.Context, accountID string) (cached, folded int64, err error)
}

// WalletsHandler holds the dependencies for wallet-related handlers.
type WalletsHandler struct {
	Wallet WalletService
	Store  storage.WalletStore
}

// NewWalletsHandler creates a new WalletsHandler.
func NewWalletsHandler(wallet WalletService, store storage.WalletStore) *WalletsHandler {
	return &WalletsHandler{Wallet: wallet, Store: store}
}

// Recharge credits a wallet. The account is created on first recharge.
func (h *WalletsHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var body api.Recharge
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Amount <= 0 {
		http.Error(w, "Recharge amount must be positive", http.StatusBadRequest)
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "recharge"
	}

	entry, err := h.Wallet.Credit(r.Context(), accountID, body.Amount, reason)
	if err != nil {
		slog.Error("failed to credit wallet", "account_id", accountID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to recharge wallet: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, mapping.ToApiLedgerEntry(entry))
}

// GetWalletByAccountId retrieves a wallet's balance and available funds.
func (h *WalletsHandler) GetWalletByAccountId(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	account, err := h.Store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Wallet not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve wallet: %v", err), http.StatusInternalServerError)
		return
	}

	available, err := h.Wallet.Available(r.Context(), accountID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute available balance: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiWallet(account, available))
}

// ListLedgerEntries retrieves a wallet's ledger history, oldest first.
func (h *WalletsHandler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var limit int32
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = int32(parsed)
	}

	entries, err := h.Store.ListEntriesByAccount(r.Context(), accountID, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve ledger entries: %v", err), http.StatusInternalServerError)
		return
	}

	apiEntries := make([]*api.LedgerEntry, len(entries))
	for i := range entries {
		apiEntries[i] = mapping.ToApiLedgerEntry(&entries[i])
	}

	respondJSON(w, http.StatusOK, apiEntries)
}

// AuditWallet re-folds a wallet's ledger and reports the cached balance
// against the fold. The two diverging means the cache write lost a race and
// needs reconciliation.
func (h *WalletsHandler) AuditWallet(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	cached, folded, err := h.Wallet.AuditBalance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Wallet not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to audit wallet: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"cached":     cached,
		"folded":     folded,
		"consistent": cached == folded,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
