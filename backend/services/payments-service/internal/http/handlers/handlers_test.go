package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/http/middleware"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/service"
)

type stubSessions struct {
	owners    map[string]string
	calls     []string
	startIn   service.StartSessionInput
	startErr  error
	stopCost  *decimal.Decimal
	stopErr   error
	refundErr error
	recentIn  []interface{}
	history   []models.BalanceCheck
	check     *models.BalanceCheck
}

func (s *stubSessions) Session(_ context.Context, sessionID string) (*models.Session, error) {
	owner, ok := s.owners[sessionID]
	if !ok {
		return nil, apperr.NotFound("Session %s not found", sessionID)
	}
	return &models.Session{ID: sessionID, UserID: owner, Status: models.SessionStatusInProgress}, nil
}

func (s *stubSessions) StartSession(_ context.Context, in service.StartSessionInput) (*service.StartResult, error) {
	s.startIn = in
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &service.StartResult{Session: &models.Session{ID: "sess-1", UserID: in.UserID, Status: models.SessionStatusInProgress}}, nil
}

func (s *stubSessions) StopSession(_ context.Context, sessionID string, finalCost *decimal.Decimal) (*service.StopResult, error) {
	s.calls = append(s.calls, "stop")
	s.stopCost = finalCost
	if s.stopErr != nil {
		return nil, s.stopErr
	}
	return &service.StopResult{
		Session:     &models.Session{ID: sessionID, Status: models.SessionStatusCompleted},
		PaymentLink: &models.PaymentLink{ID: "link-1", SessionID: sessionID, Status: models.LinkStatusPending},
	}, nil
}

func (s *stubSessions) CancelSession(_ context.Context, sessionID, _ string) (*models.Session, error) {
	s.calls = append(s.calls, "cancel")
	return &models.Session{ID: sessionID, Status: models.SessionStatusCancelled}, nil
}

func (s *stubSessions) RecreateLink(_ context.Context, sessionID string) (*service.RecreateResult, error) {
	s.calls = append(s.calls, "recreate")
	return nil, apperr.New(apperr.KindAlreadyPaid, "Session %s has already been paid", sessionID)
}

func (s *stubSessions) RefundPayment(_ context.Context, sessionID string) (*service.RefundResult, error) {
	s.calls = append(s.calls, "refund")
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &service.RefundResult{SessionID: sessionID, Amount: decimal.RequireFromString("12.5")}, nil
}

func (s *stubSessions) BalanceCheckHistory(_ context.Context, _ string, _ int) ([]models.BalanceCheck, error) {
	return s.history, nil
}

func (s *stubSessions) SessionsByUser(_ context.Context, _ string, _ int) ([]models.SessionWithLinks, error) {
	return []models.SessionWithLinks{}, nil
}

func (s *stubSessions) BalanceCheckByID(_ context.Context, id string) (*models.BalanceCheck, error) {
	if s.check == nil {
		return nil, apperr.NotFound("Balance check %s not found", id)
	}
	return s.check, nil
}

func (s *stubSessions) CheckRecentBalanceCheck(_ context.Context, userID, address, chain string, amount decimal.Decimal, within int) (*service.RecentCheckResult, error) {
	s.recentIn = []interface{}{userID, address, chain, amount.String(), within}
	return &service.RecentCheckResult{Message: "No recent sufficient balance check found within 5 minutes"}, nil
}

type stubLinks struct{}

func (stubLinks) GetActiveOrLatest(_ context.Context, sessionID string) (*service.LinkView, error) {
	return nil, apperr.NotFound("No payment link found for session %s", sessionID)
}

func (stubLinks) SyncStatus(_ context.Context, sessionID string) (*service.LinkView, error) {
	return &service.LinkView{PaymentLink: models.PaymentLink{SessionID: sessionID, Status: models.LinkStatusPaid}}, nil
}

type stubPrechecker struct {
	recorded service.PrecheckAndRecordInput
	err      error
}

func (s *stubPrechecker) Precheck(_ context.Context, provider, address, chain string, amount decimal.Decimal) (*service.PrecheckResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.PrecheckResult{CanPay: true, Provider: provider, Chain: chain, WalletAddress: address, RequiredUSDC: amount.String()}, nil
}

func (s *stubPrechecker) PrecheckAndRecord(_ context.Context, in service.PrecheckAndRecordInput) (*service.RecordedPrecheck, error) {
	s.recorded = in
	return &service.RecordedPrecheck{
		Result:         &service.PrecheckResult{CanPay: false, Error: "RPC unavailable"},
		BalanceCheckID: "bc-1",
		Status:         models.BalanceStatusError,
	}, nil
}

type stubWebhooks struct {
	err error
}

func (s stubWebhooks) HandleDelivery(_ context.Context, _ []byte, _ string) (*service.DeliveryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.DeliveryResult{EventID: "evt_1", Outcome: service.OutcomeApplied}, nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStartSessionHandler(t *testing.T) {
	sessions := &stubSessions{}
	h := NewSessionsHandlers(sessions, stubLinks{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/start", strings.NewReader(
		`{"user_id":"u-1","charger_id":"c-1","check_balance":true,"wallet_address":"0xabc","chain":"base","expected_max_cost":"10.00"}`))
	rec := httptest.NewRecorder()
	h.Start(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u-1", sessions.startIn.UserID)
	assert.True(t, sessions.startIn.CheckBalance)
	require.NotNil(t, sessions.startIn.ExpectedMaxCost)
	assert.Equal(t, "10", sessions.startIn.ExpectedMaxCost.String())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"insufficient", apperr.New(apperr.KindInsufficientBalance, "Insufficient balance. Required: $10.00, Available: $5.00"), http.StatusBadRequest, "InsufficientBalance"},
		{"balance failed", apperr.New(apperr.KindBalanceCheckFailed, "Balance check failed: boom"), http.StatusBadRequest, "BalanceCheckFailed"},
		{"invalid", apperr.InvalidArgument("walletAddress, chain, and expectedMaxCost are required"), http.StatusBadRequest, "InvalidArgument"},
		{"transport", apperr.New(apperr.KindTransport, "Checkout provider create failed"), http.StatusBadGateway, "TransportError"},
		{"internal", assert.AnError, http.StatusInternalServerError, "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionsHandlers(&stubSessions{startErr: tt.err}, stubLinks{}, zap.NewNop())
			rec := httptest.NewRecorder()
			h.Start(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"u","charger_id":"c"}`)))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.kind, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestStopSessionHandler(t *testing.T) {
	sessions := &stubSessions{}
	h := NewSessionsHandlers(sessions, stubLinks{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"session_id":"sess-1"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, sessions.stopCost)

	rec = httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"session_id":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecreateLinkAlreadyPaid(t *testing.T) {
	h := NewSessionsHandlers(&stubSessions{}, stubLinks{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.RecreateLink(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"session_id":"sess-1"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "AlreadyPaid", body["error"])
	assert.Equal(t, "Session sess-1 has already been paid", body["message"])
}

func TestGetLinkNotFound(t *testing.T) {
	h := NewSessionsHandlers(&stubSessions{}, stubLinks{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/link/sess-9", nil)
	req.SetPathValue("sessionId", "sess-9")
	rec := httptest.NewRecorder()
	h.GetLink(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No payment link found for session sess-9", decodeBody(t, rec)["message"])
}

func TestSessionRoutesRejectForeignSession(t *testing.T) {
	sessions := &stubSessions{owners: map[string]string{"sess-1": "u-owner"}}
	h := NewSessionsHandlers(sessions, stubLinks{}, zap.NewNop())

	cases := []struct {
		name    string
		handler http.HandlerFunc
		body    string
	}{
		{name: "stop", handler: h.Stop, body: `{"session_id":"sess-1","final_cost":"3.00"}`},
		{name: "cancel", handler: h.Cancel, body: `{"session_id":"sess-1"}`},
		{name: "recreate", handler: h.RecreateLink, body: `{"session_id":"sess-1"}`},
		{name: "refund", handler: h.Refund, body: `{"session_id":"sess-1"}`},
		{name: "get link", handler: h.GetLink},
		{name: "sync link", handler: h.SyncLink},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			req.SetPathValue("sessionId", "sess-1")
			req = req.WithContext(middleware.WithUserID(req.Context(), "u-intruder"))
			rec := httptest.NewRecorder()
			tc.handler(rec, req)

			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "AuthenticationError", decodeBody(t, rec)["error"])
		})
	}
	assert.Empty(t, sessions.calls)
}

func TestSessionRoutesAllowOwner(t *testing.T) {
	sessions := &stubSessions{owners: map[string]string{"sess-1": "u-owner"}}
	h := NewSessionsHandlers(sessions, stubLinks{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"session_id":"sess-1"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u-owner"))
	rec := httptest.NewRecorder()
	h.Refund(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.SetPathValue("sessionId", "sess-1")
	req = req.WithContext(middleware.WithUserID(req.Context(), "u-owner"))
	rec = httptest.NewRecorder()
	h.SyncLink(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"refund"}, sessions.calls)
}

func TestSessionRoutesUnknownSessionWhenAuthenticated(t *testing.T) {
	sessions := &stubSessions{owners: map[string]string{}}
	h := NewSessionsHandlers(sessions, stubLinks{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"session_id":"sess-404"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u-owner"))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, sessions.calls)
}

func TestRecentBalanceCheckHandler(t *testing.T) {
	sessions := &stubSessions{}
	h := NewSessionsHandlers(sessions, stubLinks{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/?wallet_address=0xabc&chain=base&amount=10.5&within_minutes=15", nil)
	req.SetPathValue("userId", "u-1")
	rec := httptest.NewRecorder()
	h.RecentBalanceCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"u-1", "0xabc", "base", "10.5", 15}, sessions.recentIn)

	req = httptest.NewRequest(http.MethodGet, "/?chain=base", nil)
	req.SetPathValue("userId", "u-1")
	rec = httptest.NewRecorder()
	h.RecentBalanceCheck(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalanceChecksRejectsBadLimit(t *testing.T) {
	h := NewSessionsHandlers(&stubSessions{}, stubLinks{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	req.SetPathValue("userId", "u-1")
	rec := httptest.NewRecorder()
	h.BalanceChecks(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrecheckHandler(t *testing.T) {
	verifier := &stubPrechecker{}
	h := NewPaymentsHandlers(verifier, []string{"coinbase_cdp", "stripe"}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Precheck(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"wallet_address":"0xabc","chain":"base","amount_usd":5}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["can_pay"])
	assert.Equal(t, "stripe", body["provider"])
	assert.NotContains(t, body, "balance_check_id")

	rec = httptest.NewRecorder()
	h.Precheck(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"wallet_address":"0xabc","chain":"base","amount_usd":"5","user_id":"u-1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["can_pay"])
	assert.Equal(t, "RPC unavailable", body["error"])
	assert.Equal(t, "bc-1", body["balance_check_id"])
	assert.Equal(t, "ERROR", body["balance_status"])
	assert.Equal(t, "precheck-api", verifier.recorded.Source)

	rec = httptest.NewRecorder()
	h.Precheck(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"chain":"base"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrecheckUnknownProvider(t *testing.T) {
	h := NewPaymentsHandlers(&stubPrechecker{err: apperr.InvalidArgument("Unsupported payment provider: paypal")}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Precheck(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"provider":"paypal","wallet_address":"0xabc","chain":"base","amount_usd":5}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported payment provider: paypal", decodeBody(t, rec)["message"])
}

func TestProvidersHandler(t *testing.T) {
	h := NewPaymentsHandlers(&stubPrechecker{}, []string{"coinbase_cdp", "stripe"}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Providers(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body := decodeBody(t, rec)
	assert.Equal(t, []interface{}{"coinbase_cdp", "stripe"}, body["providers"])
	assert.Contains(t, body["chains"], "solana")
}

func TestWebhookHandler(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		body      string
		err       error
		status    int
	}{
		{name: "dispatched", signature: "t=1,v1=x", body: `{}`, status: http.StatusOK},
		{name: "missing signature", body: `{}`, status: http.StatusBadRequest},
		{name: "missing payload", signature: "t=1,v1=x", status: http.StatusBadRequest},
		{name: "bad signature", signature: "t=1,v1=x", body: `{}`,
			err: apperr.New(apperr.KindAuthentication, "Invalid webhook signature"), status: http.StatusBadRequest},
		{name: "persistence failure", signature: "t=1,v1=x", body: `{}`, err: assert.AnError, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(stubWebhooks{err: tt.err}, zap.NewNop())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/stripe/webhook", strings.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set("Stripe-Signature", tt.signature)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			if tt.status == http.StatusOK {
				assert.Equal(t, true, body["received"])
			} else {
				assert.NotEmpty(t, body["error"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]HealthCheck{
		"redis": func(context.Context) error { return assert.AnError },
	})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}
