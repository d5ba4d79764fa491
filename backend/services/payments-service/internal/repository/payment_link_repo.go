package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	libdb "chargepay/backend/libs/db"
	"chargepay/backend/services/payments-service/internal/models"
)

// ErrLinkNotFound indicates a missing payment link.
var ErrLinkNotFound = errors.New("payment link not found")

const linkColumns = `id, session_id, checkout_ref, payment_url, amount, currency, status, expires_at, payment_intent_ref, metadata, created_at, updated_at`

// PaymentLinkRepository persists payment links. Rows are never deleted.
type PaymentLinkRepository struct {
	db *sql.DB
}

// NewPaymentLinkRepository returns repository.
func NewPaymentLinkRepository(db *sql.DB) *PaymentLinkRepository {
	return &PaymentLinkRepository{db: db}
}

// CreateSupersedingPending expires any PENDING link of the session and inserts link in one
// transaction, so a session never holds two PENDING links. It returns the number of links expired.
func (r *PaymentLinkRepository) CreateSupersedingPending(ctx context.Context, link *models.PaymentLink) (int64, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	const expireQuery = `
		UPDATE payment_links
		SET status = 'EXPIRED',
		    updated_at = NOW()
		WHERE session_id = $1 AND status = 'PENDING'
	`
	const insertQuery = `
		INSERT INTO payment_links (id, session_id, checkout_ref, payment_url, amount, currency, status, expires_at, payment_intent_ref, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	var expired int64
	err := libdb.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, expireQuery, link.SessionID)
		if err != nil {
			return err
		}
		if expired, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, insertQuery,
			link.ID,
			link.SessionID,
			link.CheckoutRef,
			link.PaymentURL,
			link.Amount,
			link.Currency,
			link.Status,
			link.ExpiresAt,
			link.PaymentIntentRef,
			link.Metadata,
		).Scan(&link.CreatedAt, &link.UpdatedAt)
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// Latest returns the most recently created link of a session or ErrLinkNotFound.
func (r *PaymentLinkRepository) Latest(ctx context.Context, sessionID string) (*models.PaymentLink, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM payment_links
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	link, err := scanLink(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return link, err
}

// LatestWithStatus returns the newest link of a session in status or ErrLinkNotFound.
func (r *PaymentLinkRepository) LatestWithStatus(ctx context.Context, sessionID, status string) (*models.PaymentLink, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM payment_links
		WHERE session_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	link, err := scanLink(r.db.QueryRowContext(ctx, query, sessionID, status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return link, err
}

// GetByCheckoutRef returns the link for an external checkout reference or ErrLinkNotFound.
func (r *PaymentLinkRepository) GetByCheckoutRef(ctx context.Context, checkoutRef string) (*models.PaymentLink, error) {
	query := `SELECT ` + linkColumns + ` FROM payment_links WHERE checkout_ref = $1`
	link, err := scanLink(r.db.QueryRowContext(ctx, query, checkoutRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return link, err
}

// ListBySession returns every link of a session, newest first.
func (r *PaymentLinkRepository) ListBySession(ctx context.Context, sessionID string) ([]models.PaymentLink, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM payment_links
		WHERE session_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]models.PaymentLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// LinkUpdate carries the fields written alongside a status change.
type LinkUpdate struct {
	Status           string
	PaymentIntentRef *string
	Metadata         models.Metadata
}

// UpdateStatus writes update only if the link is still in fromStatus. The payment intent is kept
// when update carries none. It reports whether a row changed.
func (r *PaymentLinkRepository) UpdateStatus(ctx context.Context, id, fromStatus string, update LinkUpdate) (bool, error) {
	const query = `
		UPDATE payment_links
		SET status = $3,
		    payment_intent_ref = COALESCE($4::text, payment_intent_ref),
		    metadata = $5,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, fromStatus, update.Status, update.PaymentIntentRef, update.Metadata)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanLink(row rowScanner) (*models.PaymentLink, error) {
	var l models.PaymentLink
	if err := row.Scan(
		&l.ID,
		&l.SessionID,
		&l.CheckoutRef,
		&l.PaymentURL,
		&l.Amount,
		&l.Currency,
		&l.Status,
		&l.ExpiresAt,
		&l.PaymentIntentRef,
		&l.Metadata,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
