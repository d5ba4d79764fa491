package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/clients/checkout"
	"chargepay/backend/services/payments-service/internal/metrics"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/repository"
)

const defaultLinkExpiryMinutes = 30

var hundred = decimal.NewFromInt(100)

// LinkConfig holds checkout defaults.
type LinkConfig struct {
	Currency            string
	CardPaymentsEnabled bool
}

// LinkOptions tunes a single CreateLink call.
type LinkOptions struct {
	ExpiryMinutes     int
	AllowCardFallback bool
	Metadata          models.Metadata
}

// StatusUpdate is the context written alongside a webhook driven status change.
type StatusUpdate struct {
	Metadata         models.Metadata
	PaymentIntentRef string
}

// LinkView is a payment link with its derived expiry flag.
type LinkView struct {
	models.PaymentLink
	IsExpired bool `json:"is_expired"`
}

// RefundResult describes a completed refund. Amount is in currency units.
type RefundResult struct {
	SessionID string          `json:"session_id"`
	LinkID    string          `json:"link_id"`
	RefundID  string          `json:"refund_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

// PaymentLinkManager issues hosted checkouts for sessions and keeps link statuses in step with the provider.
type PaymentLinkManager struct {
	links    PaymentLinkStore
	provider CheckoutProvider
	cfg      LinkConfig
	notifier LinkNotifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentLinkManager builds manager. notifier may be nil.
func NewPaymentLinkManager(links PaymentLinkStore, provider CheckoutProvider, cfg LinkConfig, notifier LinkNotifier, m *metrics.Metrics, logger *zap.Logger) *PaymentLinkManager {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &PaymentLinkManager{
		links:    links,
		provider: provider,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateLink requests a checkout for amount and stores it as the session's only PENDING link.
// Provider failures are returned; nothing is persisted without a checkout reference.
func (m *PaymentLinkManager) CreateLink(ctx context.Context, sessionID string, amount decimal.Decimal, opts LinkOptions) (*models.PaymentLink, error) {
	if sessionID == "" {
		return nil, apperr.InvalidArgument("sessionId is required")
	}
	if !amount.IsPositive() {
		return nil, apperr.InvalidArgument("Payment amount must be positive, got %s", amount.String())
	}
	expiry := opts.ExpiryMinutes
	if expiry <= 0 {
		expiry = defaultLinkExpiryMinutes
	}
	expiresAt := m.now().Add(time.Duration(expiry) * time.Minute).UTC().Truncate(time.Second)

	methods := []string{checkout.MethodCrypto}
	if opts.AllowCardFallback && m.cfg.CardPaymentsEnabled {
		methods = append(methods, checkout.MethodCard)
	}

	providerMetadata := map[string]string{
		"session_id":      sessionID,
		"type":            "ev_charging",
		"payment_methods": strings.Join(methods, ","),
	}
	for k, v := range opts.Metadata {
		if v == nil {
			continue
		}
		providerMetadata[k] = fmt.Sprint(v)
	}

	co, err := m.provider.CreateCheckout(ctx, checkout.Request{
		AmountMinor:    amount.Mul(hundred).Round(0).IntPart(),
		Currency:       m.cfg.Currency,
		SessionID:      sessionID,
		ExpiresAt:      expiresAt,
		PaymentMethods: methods,
		Metadata:       providerMetadata,
	})
	if err != nil {
		m.logger.Error("failed to create checkout",
			zap.String("session_id", sessionID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindTransport, err, "Checkout creation failed for session %s", sessionID)
		}
		return nil, err
	}

	link := &models.PaymentLink{
		SessionID:   sessionID,
		CheckoutRef: co.Ref,
		PaymentURL:  co.URL,
		Amount:      amount.Round(2),
		Currency:    m.cfg.Currency,
		Status:      models.LinkStatusPending,
		ExpiresAt:   expiresAt,
		Metadata:    opts.Metadata.Merge(models.Metadata{"paymentMethods": methods}),
	}
	if !co.ExpiresAt.IsZero() {
		link.ExpiresAt = co.ExpiresAt
	}
	if co.PaymentIntentRef != "" {
		ref := co.PaymentIntentRef
		link.PaymentIntentRef = &ref
	}

	expired, err := m.links.CreateSupersedingPending(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("store payment link: %w", err)
	}
	m.metrics.LinkTransition(models.LinkStatusPending)
	m.notify(link)

	m.logger.Info("payment link created",
		zap.String("session_id", sessionID),
		zap.String("link_id", link.ID),
		zap.String("checkout_ref", link.CheckoutRef),
		zap.Time("expires_at", link.ExpiresAt),
		zap.Int64("superseded", expired),
	)
	return link, nil
}

// Supersede expires the session's latest link when it is still PENDING and returns it.
// A PAID latest link yields AlreadyPaid; no link yields nil.
func (m *PaymentLinkManager) Supersede(ctx context.Context, sessionID string) (*models.PaymentLink, error) {
	link, err := m.links.Latest(ctx, sessionID)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest link: %w", err)
	}

	switch link.Status {
	case models.LinkStatusPaid:
		return nil, apperr.New(apperr.KindAlreadyPaid, "Session %s has already been paid", sessionID)
	case models.LinkStatusPending:
		metadata := link.Metadata.Merge(models.Metadata{"supersededAt": m.now().UTC().Format(time.RFC3339)})
		changed, err := m.links.UpdateStatus(ctx, link.ID, models.LinkStatusPending, repository.LinkUpdate{
			Status:   models.LinkStatusExpired,
			Metadata: metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("expire link %s: %w", link.ID, err)
		}
		if changed {
			link.Status = models.LinkStatusExpired
			link.Metadata = metadata
			m.metrics.LinkTransition(models.LinkStatusExpired)
			m.notify(link)
		}
	}
	return link, nil
}

// GetActiveOrLatest returns the session's newest link.
func (m *PaymentLinkManager) GetActiveOrLatest(ctx context.Context, sessionID string) (*LinkView, error) {
	link, err := m.links.Latest(ctx, sessionID)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, apperr.NotFound("No payment link found for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &LinkView{PaymentLink: *link, IsExpired: link.IsExpiredAt(m.now())}, nil
}

// Refund refunds the session's newest PAID link and marks it REFUNDED.
func (m *PaymentLinkManager) Refund(ctx context.Context, sessionID string) (*RefundResult, error) {
	link, err := m.links.LatestWithStatus(ctx, sessionID, models.LinkStatusPaid)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, apperr.NotFound("No paid payment found for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	if link.PaymentIntentRef == nil || *link.PaymentIntentRef == "" {
		return nil, apperr.InvalidState("No payment intent found for session %s", sessionID)
	}

	refund, err := m.provider.Refund(ctx, *link.PaymentIntentRef)
	if err != nil {
		m.logger.Error("refund failed",
			zap.String("session_id", sessionID),
			zap.String("link_id", link.ID),
			zap.Error(err),
		)
		return nil, err
	}

	metadata := link.Metadata.Merge(models.Metadata{
		"refundId":   refund.Ref,
		"refundedAt": m.now().UTC().Format(time.RFC3339),
	})
	changed, err := m.links.UpdateStatus(ctx, link.ID, models.LinkStatusPaid, repository.LinkUpdate{
		Status:   models.LinkStatusRefunded,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("mark link %s refunded: %w", link.ID, err)
	}
	if changed {
		link.Status = models.LinkStatusRefunded
		link.Metadata = metadata
		m.metrics.LinkTransition(models.LinkStatusRefunded)
		m.notify(link)
	} else {
		m.logger.Warn("link changed status during refund",
			zap.String("session_id", sessionID),
			zap.String("link_id", link.ID),
		)
	}

	currency := refund.Currency
	if currency == "" {
		currency = link.Currency
	}
	m.logger.Info("payment refunded",
		zap.String("session_id", sessionID),
		zap.String("refund_id", refund.Ref),
		zap.Int64("amount_minor", refund.AmountMinor),
	)
	return &RefundResult{
		SessionID: sessionID,
		LinkID:    link.ID,
		RefundID:  refund.Ref,
		Amount:    decimal.New(refund.AmountMinor, -2),
		Currency:  currency,
		Status:    refund.Status,
	}, nil
}

// ApplyStatus moves the link behind checkoutRef to status. Unknown references, repeated statuses and
// out of order transitions are logged and ignored; only persistence failures are returned.
func (m *PaymentLinkManager) ApplyStatus(ctx context.Context, checkoutRef, status string, update StatusUpdate) error {
	link, err := m.links.GetByCheckoutRef(ctx, checkoutRef)
	if errors.Is(err, repository.ErrLinkNotFound) {
		m.logger.Warn("no payment link for checkout reference",
			zap.String("checkout_ref", checkoutRef),
			zap.String("status", status),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load link by checkout ref: %w", err)
	}

	if link.Status == status {
		m.logger.Debug("payment link already in status",
			zap.String("link_id", link.ID),
			zap.String("status", status),
		)
		return nil
	}
	if !models.CanTransition(link.Status, status) {
		m.logger.Warn("ignoring out of order status change",
			zap.String("link_id", link.ID),
			zap.String("from", link.Status),
			zap.String("to", status),
		)
		return nil
	}

	var intentRef *string
	if update.PaymentIntentRef != "" {
		ref := update.PaymentIntentRef
		intentRef = &ref
	}
	metadata := link.Metadata.Merge(update.Metadata)
	changed, err := m.links.UpdateStatus(ctx, link.ID, link.Status, repository.LinkUpdate{
		Status:           status,
		PaymentIntentRef: intentRef,
		Metadata:         metadata,
	})
	if err != nil {
		return fmt.Errorf("update link %s to %s: %w", link.ID, status, err)
	}
	if !changed {
		m.logger.Info("payment link changed concurrently",
			zap.String("link_id", link.ID),
			zap.String("status", status),
		)
		return nil
	}

	from := link.Status
	link.Status = status
	link.Metadata = metadata
	if intentRef != nil {
		link.PaymentIntentRef = intentRef
	}
	m.metrics.LinkTransition(status)
	m.notify(link)

	m.logger.Info("payment link status updated",
		zap.String("session_id", link.SessionID),
		zap.String("link_id", link.ID),
		zap.String("from", from),
		zap.String("to", status),
	)
	return nil
}

// SyncStatus asks the provider about the session's PENDING link and applies a settled or expired
// checkout. It returns the session's latest link afterwards.
func (m *PaymentLinkManager) SyncStatus(ctx context.Context, sessionID string) (*LinkView, error) {
	link, err := m.links.LatestWithStatus(ctx, sessionID, models.LinkStatusPending)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return m.GetActiveOrLatest(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	co, err := m.provider.GetCheckout(ctx, link.CheckoutRef)
	if err != nil {
		return nil, err
	}

	update := StatusUpdate{
		PaymentIntentRef: co.PaymentIntentRef,
		Metadata:         models.Metadata{"syncedAt": m.now().UTC().Format(time.RFC3339)},
	}
	switch {
	case co.Paid():
		err = m.ApplyStatus(ctx, link.CheckoutRef, models.LinkStatusPaid, update)
	case co.Status == checkout.StatusExpired:
		err = m.ApplyStatus(ctx, link.CheckoutRef, models.LinkStatusExpired, update)
	}
	if err != nil {
		return nil, err
	}
	return m.GetActiveOrLatest(ctx, sessionID)
}

// ListBySession returns every link of a session, newest first.
func (m *PaymentLinkManager) ListBySession(ctx context.Context, sessionID string) ([]models.PaymentLink, error) {
	return m.links.ListBySession(ctx, sessionID)
}

func (m *PaymentLinkManager) notify(link *models.PaymentLink) {
	if m.notifier == nil {
		return
	}
	copied := *link
	m.notifier.NotifyLink(&copied)
}
