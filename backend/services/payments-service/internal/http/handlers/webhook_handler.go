package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/service"
)

const signatureHeader = "Stripe-Signature"

// WebhookProcessor handles one signed provider delivery.
type WebhookProcessor interface {
	HandleDelivery(ctx context.Context, payload []byte, signature string) (*service.DeliveryResult, error)
}

// WebhookHandler serves POST /api/v1/stripe/webhook.
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *zap.Logger
}

// NewWebhookHandler returns handler.
func NewWebhookHandler(processor WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger}
}

// ServeHTTP answers 200 for every dispatched event, 400 for unsigned or unverifiable payloads and 500
// when the event could not be persisted so the provider redelivers it.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		writeError(w, http.StatusBadRequest, apperr.KindInvalidArgument, "Missing stripe-signature header")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, apperr.KindInvalidArgument, "Payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, apperr.KindInvalidArgument, "Failed to read payload")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, apperr.KindInvalidArgument, "Missing payload")
		return
	}

	result, err := h.processor.HandleDelivery(r.Context(), payload, signature)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuthentication {
			writeError(w, http.StatusBadRequest, apperr.KindAuthentication, apperr.MessageOf(err))
			return
		}
		h.logger.Error("webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, apperr.KindInternal, "Webhook processing failed")
		return
	}

	h.logger.Debug("webhook handled",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("outcome", result.Outcome),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
