package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/clients/checkout"
	"chargepay/backend/services/payments-service/internal/metrics"
	"chargepay/backend/services/payments-service/internal/models"
)

// Delivery outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeReplayed  = "replayed"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// DeliveryResult reports what happened to a webhook delivery.
type DeliveryResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

// WebhookReconciler applies verified provider events to payment links.
type WebhookReconciler struct {
	provider  CheckoutProvider
	links     *PaymentLinkManager
	processed ProcessedEvents
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewWebhookReconciler builds reconciler. processed may be nil to disable replay detection.
func NewWebhookReconciler(provider CheckoutProvider, links *PaymentLinkManager, processed ProcessedEvents, m *metrics.Metrics, logger *zap.Logger) *WebhookReconciler {
	return &WebhookReconciler{
		provider:  provider,
		links:     links,
		processed: processed,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleDelivery verifies and dispatches one webhook delivery. Signature failures return an
// AuthenticationError and persistence failures are returned so the provider retries. Everything else,
// including unknown event kinds and malformed objects, succeeds.
func (r *WebhookReconciler) HandleDelivery(ctx context.Context, payload []byte, signature string) (*DeliveryResult, error) {
	event, err := r.provider.VerifyAndParse(payload, signature)
	if err != nil {
		r.logger.Warn("webhook verification failed", zap.Error(err))
		return nil, err
	}
	result := &DeliveryResult{EventID: event.ID, EventType: event.Type}

	if r.seen(ctx, event) {
		r.logger.Info("webhook event already processed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		result.Outcome = OutcomeReplayed
		r.metrics.WebhookEvent(event.Type, result.Outcome)
		return result, nil
	}

	outcome, err := r.dispatch(ctx, event)
	if err != nil {
		r.metrics.WebhookEvent(event.Type, OutcomeFailed)
		r.logger.Error("webhook dispatch failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return nil, err
	}
	result.Outcome = outcome
	r.metrics.WebhookEvent(event.Type, outcome)
	r.markProcessed(ctx, event)
	return result, nil
}

func (r *WebhookReconciler) dispatch(ctx context.Context, event *checkout.Event) (string, error) {
	switch event.Type {
	case checkout.EventCheckoutCompleted:
		return r.applyCheckout(ctx, event, models.LinkStatusPaid)
	case checkout.EventCheckoutExpired:
		return r.applyCheckout(ctx, event, models.LinkStatusExpired)
	case checkout.EventPaymentFailed:
		id, _ := event.ObjectID()
		r.logger.Warn("payment failed",
			zap.String("event_id", event.ID),
			zap.String("payment_intent", id),
		)
		return OutcomeIgnored, nil
	case checkout.EventChargeRefunded:
		id, _ := event.ObjectID()
		r.logger.Info("charge refunded",
			zap.String("event_id", event.ID),
			zap.String("charge", id),
		)
		return OutcomeIgnored, nil
	default:
		r.logger.Info("unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return OutcomeIgnored, nil
	}
}

func (r *WebhookReconciler) applyCheckout(ctx context.Context, event *checkout.Event, status string) (string, error) {
	obj, err := event.CheckoutObject()
	if err != nil {
		r.logger.Warn("malformed checkout event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return OutcomeMalformed, nil
	}

	metadata := models.Metadata{
		"webhookEventId": event.ID,
		"webhookType":    event.Type,
	}
	now := r.now().UTC().Format(time.RFC3339)
	if status == models.LinkStatusPaid {
		metadata["paidAt"] = now
		if obj.PaymentStatus != "" {
			metadata["paymentStatus"] = obj.PaymentStatus
		}
		if obj.CustomerEmail != "" {
			metadata["customerEmail"] = obj.CustomerEmail
		}
		if obj.AmountMinor > 0 {
			metadata["amountPaidMinor"] = obj.AmountMinor
		}
	} else {
		metadata["expiredAt"] = now
	}

	err = r.links.ApplyStatus(ctx, obj.Ref, status, StatusUpdate{
		Metadata:         metadata,
		PaymentIntentRef: obj.PaymentIntentRef,
	})
	if err != nil {
		return "", fmt.Errorf("apply %s to checkout %s: %w", status, obj.Ref, err)
	}
	return OutcomeApplied, nil
}

func (r *WebhookReconciler) seen(ctx context.Context, event *checkout.Event) bool {
	if r.processed == nil || event.ID == "" {
		return false
	}
	seen, err := r.processed.Seen(ctx, event.ID)
	if err != nil {
		r.logger.Warn("failed to read processed webhook events", zap.String("event_id", event.ID), zap.Error(err))
		return false
	}
	return seen
}

func (r *WebhookReconciler) markProcessed(ctx context.Context, event *checkout.Event) {
	if r.processed == nil || event.ID == "" {
		return
	}
	if err := r.processed.MarkProcessed(ctx, event.ID, event.Type); err != nil {
		r.logger.Warn("failed to record processed webhook event", zap.String("event_id", event.ID), zap.Error(err))
	}
}
