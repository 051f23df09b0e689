package repository

import (
	"context"
	"database/sql"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
)

// PostgreSQLCursorRepository persists per-table re-encryption cursors for PostgreSQL.
type PostgreSQLCursorRepository struct {
	db *sql.DB
}

// NewPostgreSQLCursorRepository creates a new PostgreSQL cursor repository.
func NewPostgreSQLCursorRepository(db *sql.DB) *PostgreSQLCursorRepository {
	return &PostgreSQLCursorRepository{db: db}
}

// Get returns the cursor for (keyType, table), or nil when no cursor exists
// (rotation starts from the beginning of the table).
func (p *PostgreSQLCursorRepository) Get(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
	table string,
) (*rotationDomain.Cursor, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT key_type, table_name, last_id, updated_at
			  FROM rotation_cursors
			  WHERE key_type = $1 AND table_name = $2`

	var cursor rotationDomain.Cursor
	var kt string
	err := querier.QueryRowContext(ctx, query, string(keyType), table).Scan(
		&kt, &cursor.Table, &cursor.LastID, &cursor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get rotation cursor")
	}

	cursor.KeyType = cryptoDomain.KeyType(kt)
	return &cursor, nil
}

// Save upserts the cursor after a page completes.
func (p *PostgreSQLCursorRepository) Save(ctx context.Context, cursor *rotationDomain.Cursor) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO rotation_cursors (key_type, table_name, last_id, updated_at)
			  VALUES ($1, $2, $3, NOW())
			  ON CONFLICT (key_type, table_name)
			  DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = NOW()`

	_, err := querier.ExecContext(ctx, query, string(cursor.KeyType), cursor.Table, cursor.LastID)
	if err != nil {
		return apperrors.Wrap(err, "failed to save rotation cursor")
	}
	return nil
}

// Clear removes every cursor for a key type. Called after a rotation
// finalizes so the next rotation starts fresh.
func (p *PostgreSQLCursorRepository) Clear(ctx context.Context, keyType cryptoDomain.KeyType) error {
	querier := database.GetTx(ctx, p.db)

	_, err := querier.ExecContext(
		ctx,
		`DELETE FROM rotation_cursors WHERE key_type = $1`,
		string(keyType),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to clear rotation cursors")
	}
	return nil
}
