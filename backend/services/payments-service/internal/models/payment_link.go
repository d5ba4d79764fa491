package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment link statuses.
const (
	LinkStatusPending  = "PENDING"
	LinkStatusPaid     = "PAID"
	LinkStatusFailed   = "FAILED"
	LinkStatusExpired  = "EXPIRED"
	LinkStatusRefunded = "REFUNDED"
)

// PaymentLink ties a session to a hosted checkout.
type PaymentLink struct {
	ID               string          `db:"id" json:"id"`
	SessionID        string          `db:"session_id" json:"session_id"`
	CheckoutRef      string          `db:"checkout_ref" json:"checkout_ref"`
	PaymentURL       string          `db:"payment_url" json:"payment_url"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	Status           string          `db:"status" json:"status"`
	ExpiresAt        time.Time       `db:"expires_at" json:"expires_at"`
	PaymentIntentRef *string         `db:"payment_intent_ref" json:"payment_intent_ref,omitempty"`
	Metadata         Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// IsExpiredAt reports whether the link's expiry lies strictly before now.
func (l *PaymentLink) IsExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// CanTransition reports whether a link may move from one status to another.
// PAID, FAILED and EXPIRED are reachable only from PENDING, REFUNDED only from PAID.
func CanTransition(from, to string) bool {
	switch to {
	case LinkStatusPaid, LinkStatusFailed, LinkStatusExpired:
		return from == LinkStatusPending
	case LinkStatusRefunded:
		return from == LinkStatusPaid
	default:
		return false
	}
}
