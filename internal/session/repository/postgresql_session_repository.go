// Package repository implements session persistence for PostgreSQL and MySQL.
package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	sessionDomain "github.com/allisson/phivault/internal/session/domain"
)

// PostgreSQLSessionRepository implements session persistence for PostgreSQL.
type PostgreSQLSessionRepository struct {
	db *sql.DB
}

// NewPostgreSQLSessionRepository creates a new PostgreSQL session repository.
func NewPostgreSQLSessionRepository(db *sql.DB) *PostgreSQLSessionRepository {
	return &PostgreSQLSessionRepository{db: db}
}

// Create inserts a session. Used by fixtures and the external auth layer.
func (p *PostgreSQLSessionRepository) Create(ctx context.Context, session *sessionDomain.Session) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO sessions (id, token_hash, actor_id, created_at, expires_at, invalidated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := querier.ExecContext(
		ctx, query,
		session.ID, session.TokenHash, session.ActorID,
		session.CreatedAt, session.ExpiresAt, session.InvalidatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create session")
	}
	return nil
}

// CountValid returns the number of currently valid sessions.
func (p *PostgreSQLSessionRepository) CountValid(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, p.db)

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

// InvalidateAll marks every currently valid session invalid in one bulk
// write, forcing re-authentication. Returns the number of sessions affected.
func (p *PostgreSQLSessionRepository) InvalidateAll(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, p.db)

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
