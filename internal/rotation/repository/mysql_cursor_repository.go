package repository

import (
	"context"
	"database/sql"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
)

// MySQLCursorRepository persists per-table re-encryption cursors for MySQL.
type MySQLCursorRepository struct {
	db *sql.DB
}

// NewMySQLCursorRepository creates a new MySQL cursor repository.
func NewMySQLCursorRepository(db *sql.DB) *MySQLCursorRepository {
	return &MySQLCursorRepository{db: db}
}

// Get returns the cursor for (keyType, table), or nil when no cursor exists.
func (m *MySQLCursorRepository) Get(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
	table string,
) (*rotationDomain.Cursor, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT key_type, table_name, last_id, updated_at
			  FROM rotation_cursors
			  WHERE key_type = ? AND table_name = ?`

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
func (m *MySQLCursorRepository) Save(ctx context.Context, cursor *rotationDomain.Cursor) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO rotation_cursors (key_type, table_name, last_id, updated_at)
			  VALUES (?, ?, ?, NOW())
			  ON DUPLICATE KEY UPDATE last_id = VALUES(last_id), updated_at = NOW()`

	_, err := querier.ExecContext(ctx, query, string(cursor.KeyType), cursor.Table, cursor.LastID)
	if err != nil {
		return apperrors.Wrap(err, "failed to save rotation cursor")
	}
	return nil
}

// Clear removes every cursor for a key type.
func (m *MySQLCursorRepository) Clear(ctx context.Context, keyType cryptoDomain.KeyType) error {
	querier := database.GetTx(ctx, m.db)

	_, err := querier.ExecContext(
		ctx,
		`DELETE FROM rotation_cursors WHERE key_type = ?`,
		string(keyType),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to clear rotation cursors")
	}
	return nil
}
