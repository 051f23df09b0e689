package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	"github.com/allisson/phivault/internal/registry"
)

// EncryptedRow is one row of a registered encrypted column: the primary key
// and the serialized envelope. Value is never plaintext.
type EncryptedRow struct {
	ID    int64
	Value string
}

// PostgreSQLRecordRepository pages through registered encrypted columns for
// PostgreSQL. Table and column names are interpolated into the SQL text; they
// come exclusively from the validated, immutable field registry.
type PostgreSQLRecordRepository struct {
	db *sql.DB
}

// NewPostgreSQLRecordRepository creates a new PostgreSQL record repository.
func NewPostgreSQLRecordRepository(db *sql.DB) *PostgreSQLRecordRepository {
	return &PostgreSQLRecordRepository{db: db}
}

// ReadPage returns up to limit non-NULL encrypted rows with primary key
// greater than afterID, ordered by primary key.
func (p *PostgreSQLRecordRepository) ReadPage(
	ctx context.Context,
	entry registry.Entry,
	afterID int64,
	limit int,
) ([]EncryptedRow, error) {
	querier := database.GetTx(ctx, p.db)

	query := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s > $1 AND %s IS NOT NULL ORDER BY %s LIMIT $2`,
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
func (p *PostgreSQLRecordRepository) WriteValue(
	ctx context.Context,
	entry registry.Entry,
	id int64,
	value string,
) error {
	querier := database.GetTx(ctx, p.db)

	query := fmt.Sprintf(
		`UPDATE %s SET %s = $1 WHERE %s = $2`,
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
