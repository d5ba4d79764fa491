package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"chargepay/backend/services/payments-service/internal/clients/checkout"
	"chargepay/backend/services/payments-service/internal/clients/oracle"
	"chargepay/backend/services/payments-service/internal/models"
	"chargepay/backend/services/payments-service/internal/repository"
)

// BalanceOracle reads wallet balances for a chain.
type BalanceOracle interface {
	GetBalances(ctx context.Context, address, chain string) (oracle.Balances, error)
}

// CheckoutProvider is the hosted checkout backend.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req checkout.Request) (*checkout.Checkout, error)
	GetCheckout(ctx context.Context, ref string) (*checkout.Checkout, error)
	Refund(ctx context.Context, paymentIntentRef string) (*checkout.Refund, error)
	VerifyAndParse(payload []byte, signature string) (*checkout.Event, error)
}

// SessionStore persists charging sessions.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Finish(ctx context.Context, id, status string, finalCost decimal.Decimal) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error)
}

// BalanceCheckStore persists balance checks.
type BalanceCheckStore interface {
	Save(ctx context.Context, check *models.BalanceCheck) error
	GetByID(ctx context.Context, id string) (*models.BalanceCheck, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.BalanceCheck, error)
	LatestSufficient(ctx context.Context, userID, walletAddress, chain string, amount decimal.Decimal, since time.Time) (*models.BalanceCheck, error)
}

// PaymentLinkStore persists payment links.
type PaymentLinkStore interface {
	CreateSupersedingPending(ctx context.Context, link *models.PaymentLink) (int64, error)
	Latest(ctx context.Context, sessionID string) (*models.PaymentLink, error)
	LatestWithStatus(ctx context.Context, sessionID, status string) (*models.PaymentLink, error)
	GetByCheckoutRef(ctx context.Context, checkoutRef string) (*models.PaymentLink, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.PaymentLink, error)
	UpdateStatus(ctx context.Context, id, fromStatus string, update repository.LinkUpdate) (bool, error)
}

// ProcessedEvents remembers webhook event ids that were already dispatched.
type ProcessedEvents interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// LinkNotifier is told about payment link changes, e.g. to push them to stream subscribers.
type LinkNotifier interface {
	NotifyLink(link *models.PaymentLink)
}
