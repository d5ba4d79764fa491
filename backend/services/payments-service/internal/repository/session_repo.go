package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chargepay/backend/services/payments-service/internal/models"
)

// ErrSessionNotFound indicates a missing session.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionNotInProgress is returned when a conditional finish matched no IN_PROGRESS row.
var ErrSessionNotInProgress = errors.New("session not in progress")

const sessionColumns = `id, user_id, charger_id, status, final_cost, metadata, created_at, updated_at`

// SessionRepository handles persistence of charging sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session, assigning an id when empty.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO charging_sessions (id, user_id, charger_id, status, final_cost, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		session.ID,
		session.UserID,
		session.ChargerID,
		session.Status,
		session.FinalCost,
		session.Metadata,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

// GetByID returns a session or ErrSessionNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE id = $1`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// Finish moves an IN_PROGRESS session to status, writing finalCost in the same statement.
// Returns ErrSessionNotInProgress when the session is missing or already terminal.
func (r *SessionRepository) Finish(ctx context.Context, id, status string, finalCost decimal.Decimal) (*models.Session, error) {
	query := `
		UPDATE charging_sessions
		SET status = $2,
		    final_cost = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING ` + sessionColumns
	session, err := scanSession(r.db.QueryRowContext(ctx, query, id, status, finalCost))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotInProgress
	}
	return session, err
}

// ListByUser returns the newest sessions of a user.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ChargerID,
		&s.Status,
		&s.FinalCost,
		&s.Metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
