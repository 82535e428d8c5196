package receipts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/advisr/consult-billing/pkg/api"
	"github.com/advisr/consult-billing/pkg/mapping"
	"github.com/advisr/consult-billing/pkg/storage"
)

// ReceiptsHandler holds the dependencies for receipt-related handlers.
type ReceiptsHandler struct {
	Store storage.ReceiptStore
}

// NewReceiptsHandler creates a new ReceiptsHandler.
func NewReceiptsHandler(store storage.ReceiptStore) *ReceiptsHandler {
	return &ReceiptsHandler{Store: store}
}

// GetReceiptById retrieves a receipt by its ID.
func (h *ReceiptsHandler) GetReceiptById(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")

	receipt, err := h.Store.GetReceipt(r.Context(), receiptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Receipt not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve receipt: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiReceipt(receipt))
}

// GetReceiptBySession retrieves the receipt for a settled session.
func (h *ReceiptsHandler) GetReceiptBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	receipt, err := h.Store.GetReceiptBySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Receipt not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve receipt: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiReceipt(receipt))
}

// RateReceipt attaches a one-time 1-5 rating to a completed consultation.
func (h *ReceiptsHandler) RateReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")

	var body api.Rating
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		http.Error(w, "Rating must be between 1 and 5", http.StatusBadRequest)
		return
	}

	receipt, err := h.Store.AttachRating(r.Context(), receiptID, body.Rating)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Receipt not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrRatingAttached):
			http.Error(w, "Receipt already rated", http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("Failed to rate receipt: %v", err), http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, mapping.ToApiReceipt(receipt))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
