package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chargepay/backend/services/payments-service/internal/models"
)

// ErrBalanceCheckNotFound indicates a missing balance check.
var ErrBalanceCheckNotFound = errors.New("balance check not found")

const balanceCheckColumns = `id, user_id, wallet_address, chain, requested_amount, actual_balance, status, provider, error_message, metadata, created_at, updated_at`

// BalanceCheckRepository stores precheck history. Rows are never updated.
type BalanceCheckRepository struct {
	db *sql.DB
}

// NewBalanceCheckRepository returns repository.
func NewBalanceCheckRepository(db *sql.DB) *BalanceCheckRepository {
	return &BalanceCheckRepository{db: db}
}

// Save inserts a balance check, assigning an id when empty.
func (r *BalanceCheckRepository) Save(ctx context.Context, check *models.BalanceCheck) error {
	if check.ID == "" {
		check.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO balance_checks (id, user_id, wallet_address, chain, requested_amount, actual_balance, status, provider, error_message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		check.ID,
		check.UserID,
		check.WalletAddress,
		check.Chain,
		check.RequestedAmount,
		check.ActualBalance,
		check.Status,
		check.Provider,
		check.ErrorMessage,
		check.Metadata,
	).Scan(&check.CreatedAt, &check.UpdatedAt)
}

// GetByID returns a check or ErrBalanceCheckNotFound.
func (r *BalanceCheckRepository) GetByID(ctx context.Context, id string) (*models.BalanceCheck, error) {
	query := `SELECT ` + balanceCheckColumns + ` FROM balance_checks WHERE id = $1`
	check, err := scanBalanceCheck(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBalanceCheckNotFound
	}
	return check, err
}

// ListByUser returns the newest checks of a user.
func (r *BalanceCheckRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.BalanceCheck, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ` + balanceCheckColumns + `
		FROM balance_checks
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks := make([]models.BalanceCheck, 0)
	for rows.Next() {
		c, err := scanBalanceCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checks, nil
}

// LatestSufficient returns the newest SUFFICIENT check for the exact tuple created after since.
// A nil check with nil error means none matched.
func (r *BalanceCheckRepository) LatestSufficient(ctx context.Context, userID, walletAddress, chain string, amount decimal.Decimal, since time.Time) (*models.BalanceCheck, error) {
	query := `
		SELECT ` + balanceCheckColumns + `
		FROM balance_checks
		WHERE user_id = $1
		  AND wallet_address = $2
		  AND chain = $3
		  AND requested_amount = $4
		  AND status = 'SUFFICIENT'
		  AND created_at > $5
		ORDER BY created_at DESC
		LIMIT 1
	`
	check, err := scanBalanceCheck(r.db.QueryRowContext(ctx, query, userID, walletAddress, chain, amount, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return check, err
}

func scanBalanceCheck(row rowScanner) (*models.BalanceCheck, error) {
	var c models.BalanceCheck
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.WalletAddress,
		&c.Chain,
		&c.RequestedAmount,
		&c.ActualBalance,
		&c.Status,
		&c.Provider,
		&c.ErrorMessage,
		&c.Metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}
