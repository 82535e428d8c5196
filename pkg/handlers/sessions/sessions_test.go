package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/advisr/consult-billing/pkg/api"
	"github.com/advisr/consult-billing/pkg/handlers/sessions/mocks"
	"github.com/advisr/consult-billing/pkg/ledger"
	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateSession(t *testing.T) {
	newSession := api.NewSession{
		AccountID:     "acct-1",
		ExpertID:      "exp-1",
		RatePerMinute: 1500,
	}
	created := &models.Session{
		SessionID:      "sess-1",
		AccountID:      "acct-1",
		ExpertID:       "exp-1",
		RatePerMinute:  1500,
		ReservedAmount: 50000,
		Status:         models.PENDING,
	}

	t.Run("Success", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("StartSession", mock.Anything, "acct-1", "exp-1", int64(1500)).Return(created, nil)

		h := NewSessionsHandler(mockEngine)

		body, _ := json.Marshal(newSession)
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		h.CreateSession(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var returned api.Session
		json.Unmarshal(rr.Body.Bytes(), &returned)
		assert.Equal(t, "sess-1", returned.SessionID)
		assert.Equal(t, string(models.PENDING), returned.Status)
		assert.Equal(t, int64(50000), returned.ReservedAmount)

		mockEngine.AssertExpectations(t)
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("StartSession", mock.Anything, "acct-1", "exp-1", int64(1500)).Return(nil, ledger.ErrInsufficientFunds)

		h := NewSessionsHandler(mockEngine)

		body, _ := json.Marshal(newSession)
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
		rr := httptest.NewRecorder()

		h.CreateSession(rr, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), "Insufficient funds")
		mockEngine.AssertExpectations(t)
	})

	t.Run("Bad Request - Invalid JSON", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		h := NewSessionsHandler(mockEngine)

		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("not-json"))
		rr := httptest.NewRecorder()

		h.CreateSession(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockEngine.AssertNotCalled(t, "StartSession")
	})
}

func TestAcceptSession(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		active := &models.Session{SessionID: "sess-1", Status: models.ACTIVE}

		mockEngine := new(mocks.SessionService)
		mockEngine.On("Accept", mock.Anything, "sess-1").Return(active, nil)

		h := NewSessionsHandler(mockEngine)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/accept", nil), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.AcceptSession(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockEngine.AssertExpectations(t)
	})

	t.Run("Not Pending", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("Accept", mock.Anything, "sess-1").Return(nil, storage.ErrInvalidTransition)

		h := NewSessionsHandler(mockEngine)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/accept", nil), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.AcceptSession(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
		mockEngine.AssertExpectations(t)
	})

	t.Run("Reservation Expired", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("Accept", mock.Anything, "sess-1").Return(nil, ledger.ErrReservationExpired)

		h := NewSessionsHandler(mockEngine)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/accept", nil), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.AcceptSession(rr, req)

		assert.Equal(t, http.StatusGone, rr.Code)
		mockEngine.AssertExpectations(t)
	})
}

func TestEndSession(t *testing.T) {
	receipt := &models.Receipt{
		ReceiptID:       "rcpt-1",
		SessionID:       "sess-1",
		DurationSeconds: 492,
		FinalCost:       13500,
		EndCause:        models.EndCauseUser,
	}

	t.Run("Success", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("RequestEnd", mock.Anything, "sess-1", models.EndCauseUser).Return(receipt, nil)

		h := NewSessionsHandler(mockEngine)

		body, _ := json.Marshal(api.EndSession{Cause: "user"})
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/end", bytes.NewReader(body)), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.EndSession(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var returned api.Receipt
		json.Unmarshal(rr.Body.Bytes(), &returned)
		assert.Equal(t, "rcpt-1", returned.ReceiptID)
		assert.Equal(t, int64(13500), returned.FinalCost)

		mockEngine.AssertExpectations(t)
	})

	t.Run("Empty Body Defaults To User Cause", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("RequestEnd", mock.Anything, "sess-1", models.EndCauseUser).Return(receipt, nil)

		h := NewSessionsHandler(mockEngine)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/end", nil), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.EndSession(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockEngine.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		mockEngine.On("RequestEnd", mock.Anything, "missing", models.EndCauseUser).Return(nil, storage.ErrNotFound)

		h := NewSessionsHandler(mockEngine)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/missing/end", nil), "sessionId", "missing")
		rr := httptest.NewRecorder()

		h.EndSession(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		mockEngine.AssertExpectations(t)
	})
}

func TestTopUpSession(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		updated := &models.Session{SessionID: "sess-1", Status: models.ACTIVE, ReservedAmount: 9000}

		mockEngine := new(mocks.SessionService)
		mockEngine.On("TopUpSession", mock.Anything, "sess-1", int64(6000)).Return(updated, nil)

		h := NewSessionsHandler(mockEngine)

		body, _ := json.Marshal(api.TopUp{Amount: 6000})
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/topup", bytes.NewReader(body)), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.TopUpSession(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockEngine.AssertExpectations(t)
	})

	t.Run("Non-Positive Amount", func(t *testing.T) {
		mockEngine := new(mocks.SessionService)
		h := NewSessionsHandler(mockEngine)

		body, _ := json.Marshal(api.TopUp{Amount: 0})
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sessions/sess-1/topup", bytes.NewReader(body)), "sessionId", "sess-1")
		rr := httptest.NewRecorder()

		h.TopUpSession(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockEngine.AssertNotCalled(t, "TopUpSession")
	})
}
