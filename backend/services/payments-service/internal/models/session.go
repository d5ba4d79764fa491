package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session statuses.
const (
	SessionStatusInProgress = "IN_PROGRESS"
	SessionStatusCompleted  = "COMPLETED"
	SessionStatusCancelled  = "CANCELLED"
)

// Session represents a charging session and the cost it closed with.
type Session struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	ChargerID string          `db:"charger_id" json:"charger_id"`
	Status    string          `db:"status" json:"status"`
	FinalCost decimal.Decimal `db:"final_cost" json:"final_cost"`
	Metadata  Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// SessionWithLinks is a session together with its payment links, newest first.
type SessionWithLinks struct {
	Session
	PaymentLinks []PaymentLink `json:"payment_links"`
}
