package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	"github.com/allisson/phivault/internal/registry"
)

// MySQLRecordRepository pages through registered encrypted columns for MySQL.
type MySQLRecordRepository struct {
	db *sql.DB
}

// NewMySQLRecordRepository creates a new MySQL record repository.
func NewMySQLRecordRepository(db *sql.DB) *MySQLRecordRepository {
	return &MySQLRecordRepository{db: db}
}

// ReadPage returns up to limit non-NULL encrypted rows with primary key
// greater than afterID, ordered by primary key.
func (m *MySQLRecordRepository) ReadPage(
	ctx context.Context,
	entry registry.Entry,
	afterID int64,
	limit int,
) ([]EncryptedRow, error) {
	querier := database.GetTx(ctx, m.db)

	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s > ? AND %s IS NOT NULL ORDER BY %s LIMIT ?",
		entry.PrimaryKeyColumn, entry.EncryptedColumn, entry.Table,
		entry.PrimaryKeyColumn, entry.EncryptedColumn, entry.PrimaryKeyColumn,
	)

	rows, err := querier.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read encrypted rows")
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]EncryptedRow, 0, limit)
	for rows.Next() {
		var row EncryptedRow
		if err := rows.Scan(&row.ID, &row.Value); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan encrypted row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate encrypted rows")
	}

	return out, nil
}

// WriteValue replaces the envelope of a single row wholesale.
func (m *MySQLRecordRepository) WriteValue(
	ctx context.Context,
	entry registry.Entry,
	id int64,
	value string,
) error {
	querier := database.GetTx(ctx, m.db)

	query := fmt.Sprintf(
		"UPDATE %s SET %s = ? WHERE %s = ?",
		entry.Table, entry.EncryptedColumn, entry.PrimaryKeyColumn,
	)

	result, err := querier.ExecContext(ctx, query, value, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to write encrypted row")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return apperrors.Wrap(apperrors.ErrNotFound, "encrypted row vanished during rotation")
	}
	return nil
}
