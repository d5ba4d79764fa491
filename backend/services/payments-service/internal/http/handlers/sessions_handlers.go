package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/http/middleware"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/service"
)

// SessionService is the session lifecycle used by the sessions endpoints.
type SessionService interface {
	Session(ctx context.Context, sessionID string) (*models.Session, error)
	StartSession(ctx context.Context, in service.StartSessionInput) (*service.StartResult, error)
	StopSession(ctx context.Context, sessionID string, finalCost *decimal.Decimal) (*service.StopResult, error)
	CancelSession(ctx context.Context, sessionID, reason string) (*models.Session, error)
	RecreateLink(ctx context.Context, sessionID string) (*service.RecreateResult, error)
	RefundPayment(ctx context.Context, sessionID string) (*service.RefundResult, error)
	BalanceCheckHistory(ctx context.Context, userID string, limit int) ([]models.BalanceCheck, error)
	SessionsByUser(ctx context.Context, userID string, limit int) ([]models.SessionWithLinks, error)
	BalanceCheckByID(ctx context.Context, id string) (*models.BalanceCheck, error)
	CheckRecentBalanceCheck(ctx context.Context, userID, address, chain string, amount decimal.Decimal, withinMinutes int) (*service.RecentCheckResult, error)
}

// LinkService exposes payment link reads and provider sync.
type LinkService interface {
	GetActiveOrLatest(ctx context.Context, sessionID string) (*service.LinkView, error)
	SyncStatus(ctx context.Context, sessionID string) (*service.LinkView, error)
}

// SessionsHandlers serves /api/v1/sessions.
type SessionsHandlers struct {
	sessions SessionService
	links    LinkService
	logger   *zap.Logger
}

// NewSessionsHandlers returns handler set.
func NewSessionsHandlers(sessions SessionService, links LinkService, logger *zap.Logger) *SessionsHandlers {
	return &SessionsHandlers{sessions: sessions, links: links, logger: logger}
}

type startSessionRequest struct {
	UserID          string           `json:"user_id"`
	ChargerID       string           `json:"charger_id"`
	CheckBalance    bool             `json:"check_balance"`
	Provider        string           `json:"provider"`
	WalletAddress   string           `json:"wallet_address"`
	Chain           string           `json:"chain"`
	ExpectedMaxCost *decimal.Decimal `json:"expected_max_cost"`
	Metadata        models.Metadata  `json:"metadata"`
}

type stopSessionRequest struct {
	SessionID string           `json:"session_id"`
	FinalCost *decimal.Decimal `json:"final_cost"`
}

type cancelSessionRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// Start handles POST /api/v1/sessions/start.
func (h *SessionsHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	userID, ok := authorizeUser(r, req.UserID)
	if !ok {
		writeForbidden(w)
		return
	}

	res, err := h.sessions.StartSession(r.Context(), service.StartSessionInput{
		UserID:          userID,
		ChargerID:       req.ChargerID,
		CheckBalance:    req.CheckBalance,
		Provider:        req.Provider,
		WalletAddress:   req.WalletAddress,
		Chain:           req.Chain,
		ExpectedMaxCost: req.ExpectedMaxCost,
		Metadata:        req.Metadata,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Stop handles POST /api/v1/sessions/stop.
func (h *SessionsHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.SessionID == "" {
		respondError(w, h.logger, apperr.InvalidArgument("session_id is required"))
		return
	}
	if !h.authorizeSession(w, r, req.SessionID) {
		return
	}

	res, err := h.sessions.StopSession(r.Context(), req.SessionID, req.FinalCost)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel handles POST /api/v1/sessions/cancel.
func (h *SessionsHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.SessionID == "" {
		respondError(w, h.logger, apperr.InvalidArgument("session_id is required"))
		return
	}
	if !h.authorizeSession(w, r, req.SessionID) {
		return
	}

	session, err := h.sessions.CancelSession(r.Context(), req.SessionID, req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// RecreateLink handles POST /api/v1/sessions/recreate-link.
func (h *SessionsHandlers) RecreateLink(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.SessionID == "" {
		respondError(w, h.logger, apperr.InvalidArgument("session_id is required"))
		return
	}
	if !h.authorizeSession(w, r, req.SessionID) {
		return
	}

	res, err := h.sessions.RecreateLink(r.Context(), req.SessionID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Refund handles POST /api/v1/sessions/refund.
func (h *SessionsHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.SessionID == "" {
		respondError(w, h.logger, apperr.InvalidArgument("session_id is required"))
		return
	}
	if !h.authorizeSession(w, r, req.SessionID) {
		return
	}

	res, err := h.sessions.RefundPayment(r.Context(), req.SessionID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetLink handles GET /api/v1/sessions/link/{sessionId}.
func (h *SessionsHandlers) GetLink(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if !h.authorizeSession(w, r, sessionID) {
		return
	}
	view, err := h.links.GetActiveOrLatest(r.Context(), sessionID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SyncLink handles POST /api/v1/sessions/link/{sessionId}/sync.
func (h *SessionsHandlers) SyncLink(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if !h.authorizeSession(w, r, sessionID) {
		return
	}
	view, err := h.links.SyncStatus(r.Context(), sessionID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// BalanceChecks handles GET /api/v1/sessions/{userId}/balance-checks.
func (h *SessionsHandlers) BalanceChecks(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(r, r.PathValue("userId"))
	if !ok {
		writeForbidden(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	checks, err := h.sessions.BalanceCheckHistory(r.Context(), userID, limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance_checks": checks})
}

// UserSessions handles GET /api/v1/sessions/{userId}/sessions.
func (h *SessionsHandlers) UserSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(r, r.PathValue("userId"))
	if !ok {
		writeForbidden(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	sessions, err := h.sessions.SessionsByUser(r.Context(), userID, limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// BalanceCheck handles GET /api/v1/sessions/balance-check/{id}.
func (h *SessionsHandlers) BalanceCheck(w http.ResponseWriter, r *http.Request) {
	check, err := h.sessions.BalanceCheckByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if _, ok := authorizeUser(r, check.UserID); !ok {
		writeForbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// RecentBalanceCheck handles GET /api/v1/sessions/recent-balance-check/{userId}.
func (h *SessionsHandlers) RecentBalanceCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorizeUser(r, r.PathValue("userId"))
	if !ok {
		writeForbidden(w)
		return
	}
	q := r.URL.Query()
	wallet, chainName, rawAmount := q.Get("wallet_address"), q.Get("chain"), q.Get("amount")
	if wallet == "" || chainName == "" || rawAmount == "" {
		respondError(w, h.logger, apperr.InvalidArgument("wallet_address, chain, and amount are required"))
		return
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		respondError(w, h.logger, apperr.InvalidArgument("amount must be a decimal number"))
		return
	}
	within := 0
	if raw := q.Get("within_minutes"); raw != "" {
		if within, err = strconv.Atoi(raw); err != nil || within <= 0 {
			respondError(w, h.logger, apperr.InvalidArgument("within_minutes must be a positive integer"))
			return
		}
	}

	res, err := h.sessions.CheckRecentBalanceCheck(r.Context(), userID, wallet, chainName, amount, within)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// authorizeSession writes the error response and returns false when the caller
// does not own the session.
func (h *SessionsHandlers) authorizeSession(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if _, authenticated := middleware.UserIDFromContext(r.Context()); !authenticated {
		return true
	}
	session, err := h.sessions.Session(r.Context(), sessionID)
	if err != nil {
		respondError(w, h.logger, err)
		return false
	}
	if _, ok := authorizeUser(r, session.UserID); !ok {
		writeForbidden(w)
		return false
	}
	return true
}
