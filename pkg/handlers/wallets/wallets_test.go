package wallets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisr/consult-billing/pkg/api"
	"github.com/advisr/consult-billing/pkg/clock"
	"github.com/advisr/consult-billing/pkg/ledger"
	"github.com/advisr/consult-billing/pkg/storage/memory"
)

func newHandler() (*WalletsHandler, *ledger.Ledger) {
	store := memory.New()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wallet := ledger.New(store, clk, logger)
	return NewWalletsHandler(wallet, store), wallet
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRecharge(t *testing.T) {
	t.Run("Success Creates Account", func(t *testing.T) {
		h, _ := newHandler()

		body, _ := json.Marshal(api.Recharge{Amount: 5000})
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/wallets/acct-1/recharge", bytes.NewReader(body)), "accountId", "acct-1")
		rr := httptest.NewRecorder()

		h.Recharge(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var entry api.LedgerEntry
		json.Unmarshal(rr.Body.Bytes(), &entry)
		assert.Equal(t, "CREDIT", entry.Kind)
		assert.Equal(t, int64(5000), entry.Amount)
		assert.Equal(t, int64(5000), entry.BalanceAfter)
	})

	t.Run("Non-Positive Amount", func(t *testing.T) {
		h, _ := newHandler()

		body, _ := json.Marshal(api.Recharge{Amount: -100})
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/wallets/acct-1/recharge", bytes.NewReader(body)), "accountId", "acct-1")
		rr := httptest.NewRecorder()

		h.Recharge(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetWalletByAccountId(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h, wallet := newHandler()
		_, err := wallet.Credit(context.Background(), "acct-1", 5000, "recharge")
		require.NoError(t, err)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/wallets/acct-1", nil), "accountId", "acct-1")
		rr := httptest.NewRecorder()

		h.GetWalletByAccountId(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var returned api.Wallet
		json.Unmarshal(rr.Body.Bytes(), &returned)
		assert.Equal(t, int64(5000), returned.Balance)
		assert.Equal(t, int64(5000), returned.Available)
	})

	t.Run("Not Found", func(t *testing.T) {
		h, _ := newHandler()

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/wallets/missing", nil), "accountId", "missing")
		rr := httptest.NewRecorder()

		h.GetWalletByAccountId(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestListLedgerEntries(t *testing.T) {
	h, wallet := newHandler()
	_, err := wallet.Credit(context.Background(), "acct-1", 5000, "recharge")
	require.NoError(t, err)
	_, err = wallet.CommitDebit(context.Background(), "acct-1", 1500, "session_settlement:sess-1")
	require.NoError(t, err)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/wallets/acct-1/ledger", nil), "accountId", "acct-1")
	rr := httptest.NewRecorder()

	h.ListLedgerEntries(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var entries []api.LedgerEntry
	json.Unmarshal(rr.Body.Bytes(), &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "CREDIT", entries[0].Kind)
	assert.Equal(t, "DEBIT", entries[1].Kind)
	assert.Equal(t, int64(3500), entries[1].BalanceAfter)
}

func TestAuditWallet(t *testing.T) {
	h, wallet := newHandler()
	_, err := wallet.Credit(context.Background(), "acct-1", 5000, "recharge")
	require.NoError(t, err)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/wallets/acct-1/audit", nil), "accountId", "acct-1")
	rr := httptest.NewRecorder()

	h.AuditWallet(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var result map[string]any
	json.Unmarshal(rr.Body.Bytes(), &result)
	assert.Equal(t, true, result["consistent"])
	assert.Equal(t, float64(5000), result["cached"])
}
