package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance check statuses.
const (
	BalanceStatusSufficient   = "SUFFICIENT"
	BalanceStatusInsufficient = "INSUFFICIENT"
	BalanceStatusError        = "ERROR"
)

// BalanceCheck is an immutable record of one precheck attempt.
type BalanceCheck struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	WalletAddress   string          `db:"wallet_address" json:"wallet_address"`
	Chain           string          `db:"chain" json:"chain"`
	RequestedAmount decimal.Decimal `db:"requested_amount" json:"requested_amount"`
	ActualBalance   decimal.Decimal `db:"actual_balance" json:"actual_balance"`
	Status          string          `db:"status" json:"status"`
	Provider        string          `db:"provider" json:"provider"`
	ErrorMessage    *string         `db:"error_message" json:"error_message,omitempty"`
	Metadata        Metadata        `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}
