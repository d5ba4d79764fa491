package checkout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// Provider event kinds the reconciler understands.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventChargeRefunded    = "charge.refunded"
)

// Checkout statuses reported by GetCheckout.
const (
	StatusOpen     = "open"
	StatusComplete = "complete"
	StatusExpired  = "expired"
)

// Payment method identifiers.
const (
	MethodCrypto = "crypto"
	MethodCard   = "card"
)

// Request describes a hosted checkout to create.
type Request struct {
	AmountMinor    int64
	Currency       string
	SessionID      string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	PaymentMethods []string
	Metadata       map[string]string
}

// Checkout is the provider's view of a hosted checkout.
type Checkout struct {
	Ref              string
	URL              string
	PaymentIntentRef string
	Status           string
	PaymentStatus    string
	AmountMinor      int64
	Currency         string
	ExpiresAt        time.Time
}

// Paid reports whether the provider considers the checkout settled.
func (c *Checkout) Paid() bool {
	return c.Status == StatusComplete && c.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// Refund is the result of a refund request.
type Refund struct {
	Ref         string
	AmountMinor int64
	Currency    string
	Status      string
}

// Event is a verified provider event. Object holds the raw event object.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// CheckoutObject is the subset of a checkout session carried by checkout events.
type CheckoutObject struct {
	Ref              string
	PaymentIntentRef string
	PaymentStatus    string
	AmountMinor      int64
	Currency         string
	CustomerEmail    string
	Metadata         map[string]string
}

// CheckoutObject decodes the event object as a checkout session.
func (e Event) CheckoutObject() (*CheckoutObject, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(e.Object, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("checkout session id missing in %s event", e.Type)
	}
	obj := &CheckoutObject{
		Ref:           sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		AmountMinor:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		Metadata:      sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		obj.PaymentIntentRef = sess.PaymentIntent.ID
	}
	if sess.CustomerDetails != nil {
		obj.CustomerEmail = sess.CustomerDetails.Email
	}
	return obj, nil
}

// ObjectID returns the id of the raw event object, whatever its type.
func (e Event) ObjectID() (string, error) {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return "", fmt.Errorf("decode %s object: %w", e.Type, err)
	}
	return obj.ID, nil
}

func sessionToCheckout(sess *stripe.CheckoutSession) *Checkout {
	c := &Checkout{
		Ref:           sess.ID,
		URL:           sess.URL,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		AmountMinor:   sess.AmountTotal,
		Currency:      string(sess.Currency),
	}
	if sess.PaymentIntent != nil {
		c.PaymentIntentRef = sess.PaymentIntent.ID
	}
	if sess.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return c
}
