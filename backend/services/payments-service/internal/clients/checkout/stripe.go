package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"chargepay/backend/libs/resilience"
	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/metrics"
)

const (
	lineItemName    = "EV Charging Session"
	defaultCurrency = "usd"
)

// StripeConfig configures StripeProvider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
	// BackendURL overrides the API host, used against local stubs.
	BackendURL string
}

// StripeProvider creates hosted checkouts, issues refunds and verifies webhooks through Stripe.
type StripeProvider struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	timeout       time.Duration
	executor      *resilience.Executor
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewStripeProvider sets the global API key for stripe-go and returns the provider.
func NewStripeProvider(cfg StripeConfig, executor *resilience.Executor, m *metrics.Metrics, logger *zap.Logger) *StripeProvider {
	stripe.Key = cfg.SecretKey
	if cfg.BackendURL != "" {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
		}))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeProvider{
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		timeout:       timeout,
		executor:      executor,
		metrics:       m,
		logger:        logger,
	}
}

// Retryable reports whether a Stripe failure is worth retrying: network errors, 429 and 5xx.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// CreateCheckout creates a payment-mode checkout session with a single line item.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req Request) (*Checkout, error) {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	successURL := firstNonEmpty(req.SuccessURL, p.successURL)
	cancelURL := firstNonEmpty(req.CancelURL, p.cancelURL)

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice(req.PaymentMethods),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(lineItemName),
						Description: stripe.String(fmt.Sprintf("Charging Session ID: %s", req.SessionID)),
					},
					UnitAmount: stripe.Int64(req.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.SessionID),
		Metadata:          req.Metadata,
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}

	params.SetIdempotencyKey(newIdempotencyKey("checkout", req.SessionID))
	sess, err := call(ctx, p, "create", func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params.Context = ctx
		return checkoutsession.New(params)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("checkout session created",
		zap.String("session_id", req.SessionID),
		zap.String("checkout_ref", sess.ID),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.Strings("payment_methods", req.PaymentMethods),
	)
	return sessionToCheckout(sess), nil
}

// GetCheckout retrieves a checkout session by reference.
func (p *StripeProvider) GetCheckout(ctx context.Context, ref string) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{}
	sess, err := call(ctx, p, "get", func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params.Context = ctx
		return checkoutsession.Get(ref, params)
	})
	if err != nil {
		return nil, err
	}
	return sessionToCheckout(sess), nil
}

// Refund refunds the full amount of a payment intent.
func (p *StripeProvider) Refund(ctx context.Context, paymentIntentRef string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentRef),
	}
	params.SetIdempotencyKey(newIdempotencyKey("refund", paymentIntentRef))
	r, err := call(ctx, p, "refund", func(ctx context.Context) (*stripe.Refund, error) {
		params.Context = ctx
		return refund.New(params)
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("refund created",
		zap.String("payment_intent_ref", paymentIntentRef),
		zap.String("refund_ref", r.ID),
		zap.Int64("amount_minor", r.Amount),
	)
	return &Refund{
		Ref:         r.ID,
		AmountMinor: r.Amount,
		Currency:    string(r.Currency),
		Status:      string(r.Status),
	}, nil
}

// VerifyAndParse checks the Stripe-Signature header against the webhook secret and decodes the event
// envelope. Missing secret, signature or payload fail closed with AuthenticationError.
func (p *StripeProvider) VerifyAndParse(payload []byte, signature string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, apperr.New(apperr.KindAuthentication, "Webhook secret not configured")
	}
	if signature == "" {
		return nil, apperr.New(apperr.KindAuthentication, "Missing stripe-signature header")
	}
	if len(payload) == 0 {
		return nil, apperr.New(apperr.KindAuthentication, "Missing webhook payload")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, err, "Webhook signature verification failed")
	}
	out := &Event{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

// call runs fn under the provider timeout and the resilience executor, classifying failures as
// TransportError. fn must hand ctx to stripe-go so an abandoned attempt is cancelled with it.
func call[T any](ctx context.Context, p *StripeProvider, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result, err := resilience.Do(ctx, p.executor, fn)
	p.metrics.CheckoutCall(operation, time.Since(start), err)
	if err != nil {
		p.logger.Warn("checkout provider call failed", zap.String("operation", operation), zap.Error(err))
		var zero T
		return zero, apperr.Wrap(apperr.KindTransport, err, "Checkout provider %s failed", operation)
	}
	return result, nil
}

// newIdempotencyKey returns one key per logical provider call. Retries of that call reuse it, so Stripe
// replays the first result instead of creating a second checkout or refund.
func newIdempotencyKey(operation, ref string) string {
	return fmt.Sprintf("chargepay-%s-%s-%s", operation, ref, uuid.NewString())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
