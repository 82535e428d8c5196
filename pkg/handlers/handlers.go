// Package handlers assembles the HTTP surface of the billing service.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/advisr/consult-billing/pkg/handlers/receipts"
	"github.com/advisr/consult-billing/pkg/handlers/sessions"
	"github.com/advisr/consult-billing/pkg/handlers/streams"
	"github.com/advisr/consult-billing/pkg/handlers/wallets"
	"github.com/advisr/consult-billing/pkg/middleware"
)

// Handlers groups the route handlers the router mounts.
type Handlers struct {
	Sessions *sessions.SessionsHandler
	Wallets  *wallets.WalletsHandler
	Receipts *receipts.ReceiptsHandler
	Streams  *streams.Handler
}

// NewRouter builds the chi router for the billing API.
func NewRouter(h Handlers, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.NewStructuredLogger(logger))

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Sessions.CreateSession)
		r.Get("/{sessionId}", h.Sessions.GetSessionById)
		r.Post("/{sessionId}/accept", h.Sessions.AcceptSession)
		r.Post("/{sessionId}/end", h.Sessions.EndSession)
		r.Post("/{sessionId}/cancel", h.Sessions.CancelSession)
		r.Post("/{sessionId}/heartbeat", h.Sessions.Heartbeat)
		r.Post("/{sessionId}/topup", h.Sessions.TopUpSession)
		r.Get("/{sessionId}/receipt", h.Receipts.GetReceiptBySession)
		if h.Streams != nil {
			r.Get("/{sessionId}/stream", h.Streams.ServeHTTP)
		}
	})

	router.Route("/wallets", func(r chi.Router) {
		r.Get("/{accountId}", h.Wallets.GetWalletByAccountId)
		r.Post("/{accountId}/recharge", h.Wallets.Recharge)
		r.Get("/{accountId}/ledger", h.Wallets.ListLedgerEntries)
		r.Get("/{accountId}/audit", h.Wallets.AuditWallet)
	})

	router.Route("/receipts", func(r chi.Router) {
		r.Get("/{receiptId}", h.Receipts.GetReceiptById)
		r.Post("/{receiptId}/rating", h.Receipts.RateReceipt)
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return router
}
