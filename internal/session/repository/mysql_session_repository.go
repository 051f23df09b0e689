package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	sessionDomain "github.com/allisson/phivault/internal/session/domain"
)

// MySQLSessionRepository implements session persistence for MySQL.
type MySQLSessionRepository struct {
	db *sql.DB
}

// NewMySQLSessionRepository creates a new MySQL session repository.
func NewMySQLSessionRepository(db *sql.DB) *MySQLSessionRepository {
	return &MySQLSessionRepository{db: db}
}

// Create inserts a session. Used by fixtures and the external auth layer.
func (m *MySQLSessionRepository) Create(ctx context.Context, session *sessionDomain.Session) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO sessions (id, token_hash, actor_id, created_at, expires_at, invalidated_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := querier.ExecContext(
		ctx, query,
		session.ID.String(), session.TokenHash, session.ActorID.String(),
		session.CreatedAt, session.ExpiresAt, session.InvalidatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create session")
	}
	return nil
}

// CountValid returns the number of currently valid sessions.
func (m *MySQLSessionRepository) CountValid(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	var count int64
	err := querier.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sessions WHERE invalidated_at IS NULL AND expires_at > NOW()`,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count valid sessions")
	}
	return count, nil
}

// InvalidateAll marks every currently valid session invalid in one bulk write.
func (m *MySQLSessionRepository) InvalidateAll(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	result, err := querier.ExecContext(
		ctx,
		`UPDATE sessions SET invalidated_at = NOW() WHERE invalidated_at IS NULL AND expires_at > NOW()`,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to invalidate sessions")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected, nil
}
