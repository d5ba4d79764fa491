package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/metrics"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/repository"
)

const (
	defaultStopLinkExpiryMinutes = 24 * 60
	sessionsSource               = "start-session"
)

// DefaultSessionCost is charged when a session stops without a final cost.
var DefaultSessionCost = decimal.RequireFromString("0.50")

// SessionConfig holds lifecycle defaults.
type SessionConfig struct {
	DefaultCost       decimal.Decimal
	LinkExpiryMinutes int
}

// StartSessionInput describes a session start request.
type StartSessionInput struct {
	UserID          string
	ChargerID       string
	CheckBalance    bool
	Provider        string
	WalletAddress   string
	Chain           string
	ExpectedMaxCost *decimal.Decimal
	Metadata        models.Metadata
}

// StartResult is the outcome of StartSession.
type StartResult struct {
	Session        *models.Session `json:"session"`
	BalanceCheckID string          `json:"balance_check_id,omitempty"`
	BalanceStatus  string          `json:"balance_status,omitempty"`
}

// StopResult is a completed session with the link issued for it.
type StopResult struct {
	Session     *models.Session     `json:"session"`
	PaymentLink *models.PaymentLink `json:"payment_link"`
}

// RecreateResult is a freshly issued link for a completed session.
type RecreateResult struct {
	SessionID           string              `json:"session_id"`
	PaymentLink         *models.PaymentLink `json:"payment_link"`
	PreviousLinkID      string              `json:"previous_link_id,omitempty"`
	PreviousLinkExpired bool                `json:"previous_link_expired"`
}

// RecentCheckResult answers whether a recent sufficient balance check exists.
type RecentCheckResult struct {
	Exists       bool                 `json:"exists"`
	BalanceCheck *models.BalanceCheck `json:"balance_check,omitempty"`
	Message      string               `json:"message"`
}

// SessionLifecycle drives sessions from start to payment.
type SessionLifecycle struct {
	sessions SessionStore
	verifier *BalanceVerifier
	links    *PaymentLinkManager
	cfg      SessionConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionLifecycle constructs lifecycle service.
func NewSessionLifecycle(sessions SessionStore, verifier *BalanceVerifier, links *PaymentLinkManager, cfg SessionConfig, m *metrics.Metrics, logger *zap.Logger) *SessionLifecycle {
	if !cfg.DefaultCost.IsPositive() {
		cfg.DefaultCost = DefaultSessionCost
	}
	if cfg.LinkExpiryMinutes <= 0 {
		cfg.LinkExpiryMinutes = defaultStopLinkExpiryMinutes
	}
	return &SessionLifecycle{
		sessions: sessions,
		verifier: verifier,
		links:    links,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// StartSession opens an IN_PROGRESS session, gated on a recorded balance precheck when CheckBalance is set.
func (s *SessionLifecycle) StartSession(ctx context.Context, in StartSessionInput) (*StartResult, error) {
	if in.UserID == "" || in.ChargerID == "" {
		return nil, apperr.InvalidArgument("userId and chargerId are required")
	}

	metadata := in.Metadata.Merge(models.Metadata{"balanceCheckSkipped": !in.CheckBalance})
	result := &StartResult{}

	if in.CheckBalance {
		if in.WalletAddress == "" || in.Chain == "" || in.ExpectedMaxCost == nil {
			return nil, apperr.InvalidArgument("walletAddress, chain, and expectedMaxCost are required when checkBalance is true")
		}
		provider := in.Provider
		if provider == "" {
			provider = ProviderStripe
		}

		recorded, err := s.verifier.PrecheckAndRecord(ctx, PrecheckAndRecordInput{
			UserID:        in.UserID,
			Provider:      provider,
			WalletAddress: in.WalletAddress,
			Chain:         in.Chain,
			Amount:        *in.ExpectedMaxCost,
			Metadata:      models.Metadata{"chargerId": in.ChargerID},
			Source:        sessionsSource,
		})
		if err != nil {
			return nil, err
		}

		switch recorded.Status {
		case models.BalanceStatusInsufficient:
			s.metrics.SessionEvent("rejected")
			return nil, apperr.New(apperr.KindInsufficientBalance,
				"Insufficient balance. Required: $%s, Available: $%s",
				in.ExpectedMaxCost.StringFixed(2), recorded.Result.usdc.StringFixed(2))
		case models.BalanceStatusError:
			s.metrics.SessionEvent("rejected")
			return nil, apperr.New(apperr.KindBalanceCheckFailed, "Balance check failed: %s", recorded.Result.Error)
		}

		metadata = metadata.Merge(models.Metadata{
			"balanceCheckId": recorded.BalanceCheckID,
			"walletAddress":  in.WalletAddress,
			"chain":          recorded.BalanceCheck.Chain,
		})
		result.BalanceCheckID = recorded.BalanceCheckID
		result.BalanceStatus = recorded.Status
	}

	session := &models.Session{
		UserID:    in.UserID,
		ChargerID: in.ChargerID,
		Status:    models.SessionStatusInProgress,
		FinalCost: decimal.Zero,
		Metadata:  metadata,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionEvent("started")

	s.logger.Info("charging session started",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.String("charger_id", session.ChargerID),
		zap.Bool("balance_checked", in.CheckBalance),
	)
	result.Session = session
	return result, nil
}

// StopSession completes an IN_PROGRESS session and issues its payment link. The session is marked
// COMPLETED with its cost before the checkout is requested, so a provider failure leaves a completed
// session without a link.
func (s *SessionLifecycle) StopSession(ctx context.Context, sessionID string, finalCost *decimal.Decimal) (*StopResult, error) {
	cost := s.cfg.DefaultCost
	if finalCost != nil {
		if !finalCost.Round(2).IsPositive() {
			return nil, apperr.InvalidArgument("finalCost must be greater than zero, got %s", finalCost.String())
		}
		cost = *finalCost
	}
	cost = cost.Round(2)

	session, err := s.finish(ctx, sessionID, models.SessionStatusCompleted, cost)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionEvent("stopped")

	s.logger.Info("charging session completed",
		zap.String("session_id", session.ID),
		zap.String("final_cost", cost.String()),
	)

	link, err := s.links.CreateLink(ctx, session.ID, cost, LinkOptions{
		ExpiryMinutes:     s.cfg.LinkExpiryMinutes,
		AllowCardFallback: true,
		Metadata: models.Metadata{
			"userId":           session.UserID,
			"finalCost":        cost.String(),
			"createdBy":        "stopSession",
			"chargerId":        session.ChargerID,
			"sessionFinalCost": cost.String(),
		},
	})
	if err != nil {
		s.logger.Error("session completed without payment link",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return &StopResult{Session: session, PaymentLink: link}, nil
}

// CancelSession moves an IN_PROGRESS session to CANCELLED. No payment is requested.
func (s *SessionLifecycle) CancelSession(ctx context.Context, sessionID, reason string) (*models.Session, error) {
	session, err := s.finish(ctx, sessionID, models.SessionStatusCancelled, decimal.Zero)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionEvent("cancelled")
	s.logger.Info("charging session cancelled",
		zap.String("session_id", session.ID),
		zap.String("reason", reason),
	)
	return session, nil
}

func (s *SessionLifecycle) finish(ctx context.Context, sessionID, status string, cost decimal.Decimal) (*models.Session, error) {
	current, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.SessionStatusInProgress {
		return nil, notInProgress(sessionID, current.Status)
	}

	session, err := s.sessions.Finish(ctx, sessionID, status, cost)
	if errors.Is(err, repository.ErrSessionNotInProgress) {
		// lost a race with another stop or cancel
		if latest, getErr := s.getSession(ctx, sessionID); getErr == nil {
			return nil, notInProgress(sessionID, latest.Status)
		}
		return nil, notInProgress(sessionID, "unknown")
	}
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	return session, nil
}

// RecreateLink supersedes the latest link of a session and issues a new one for its final cost,
// falling back to the default cost when none was recorded.
func (s *SessionLifecycle) RecreateLink(ctx context.Context, sessionID string) (*RecreateResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	previous, err := s.links.Supersede(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cost := session.FinalCost
	if !cost.IsPositive() {
		cost = s.cfg.DefaultCost
	}
	metadata := models.Metadata{
		"userId":           session.UserID,
		"createdBy":        "recreatePaymentLink",
		"recreatedAt":      s.now().UTC().Format(time.RFC3339),
		"chargerId":        session.ChargerID,
		"sessionFinalCost": session.FinalCost.String(),
	}
	result := &RecreateResult{SessionID: sessionID, PreviousLinkExpired: previous != nil}
	if previous != nil {
		metadata["previousLinkId"] = previous.ID
		result.PreviousLinkID = previous.ID
	}

	link, err := s.links.CreateLink(ctx, sessionID, cost, LinkOptions{
		ExpiryMinutes:     s.cfg.LinkExpiryMinutes,
		AllowCardFallback: true,
		Metadata:          metadata,
	})
	if err != nil {
		return nil, err
	}
	result.PaymentLink = link

	s.logger.Info("payment link recreated",
		zap.String("session_id", sessionID),
		zap.String("link_id", link.ID),
		zap.String("previous_link_id", result.PreviousLinkID),
	)
	return result, nil
}

// RefundPayment refunds the session's paid link.
func (s *SessionLifecycle) RefundPayment(ctx context.Context, sessionID string) (*RefundResult, error) {
	return s.links.Refund(ctx, sessionID)
}

// BalanceCheckHistory lists a user's newest balance checks.
func (s *SessionLifecycle) BalanceCheckHistory(ctx context.Context, userID string, limit int) ([]models.BalanceCheck, error) {
	return s.verifier.BalanceCheckHistory(ctx, userID, limit)
}

// BalanceCheckByID returns a single balance check.
func (s *SessionLifecycle) BalanceCheckByID(ctx context.Context, id string) (*models.BalanceCheck, error) {
	return s.verifier.BalanceCheckByID(ctx, id)
}

// SessionsByUser lists a user's newest sessions with their payment links.
func (s *SessionLifecycle) SessionsByUser(ctx context.Context, userID string, limit int) ([]models.SessionWithLinks, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.SessionWithLinks, 0, len(sessions))
	for _, session := range sessions {
		links, err := s.links.ListBySession(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("list links of session %s: %w", session.ID, err)
		}
		out = append(out, models.SessionWithLinks{Session: session, PaymentLinks: links})
	}
	return out, nil
}

// CheckRecentBalanceCheck reports whether a SUFFICIENT check for the exact tuple exists within the window.
func (s *SessionLifecycle) CheckRecentBalanceCheck(ctx context.Context, userID, address, chainName string, amount decimal.Decimal, withinMinutes int) (*RecentCheckResult, error) {
	if withinMinutes <= 0 {
		withinMinutes = defaultRecentWindowMinutes
	}
	check, err := s.verifier.RecentSufficientCheck(ctx, userID, address, chainName, amount, withinMinutes)
	if err != nil {
		return nil, err
	}
	if check == nil {
		return &RecentCheckResult{
			Message: fmt.Sprintf("No recent sufficient balance check found within %d minutes", withinMinutes),
		}, nil
	}
	return &RecentCheckResult{
		Exists:       true,
		BalanceCheck: check,
		Message:      fmt.Sprintf("Recent sufficient balance check found from %s", check.CreatedAt.UTC().Format(time.RFC3339)),
	}, nil
}

// Session returns a session by id.
func (s *SessionLifecycle) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.getSession(ctx, sessionID)
}

func (s *SessionLifecycle) getSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, apperr.NotFound("Session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func notInProgress(sessionID, status string) error {
	return apperr.InvalidState("Session %s is not in progress. Current status: %s", sessionID, status)
}
