// Package repository implements persistence for the rotation ledger, the
// resumable rotation cursors, and the registry-driven row pager. Both
// PostgreSQL and MySQL are supported.
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
)

// PostgreSQLLedgerRepository implements rotation ledger persistence for PostgreSQL.
//
// The single-flight guard is a partial unique index on rotation_history
// (key_type) WHERE status IN ('pending', 'in_progress'): inserting a second
// open record for the same key type violates the index and maps to
// ErrRotationInProgress.
type PostgreSQLLedgerRepository struct {
	db *sql.DB
}

// NewPostgreSQLLedgerRepository creates a new PostgreSQL rotation ledger repository.
func NewPostgreSQLLedgerRepository(db *sql.DB) *PostgreSQLLedgerRepository {
	return &PostgreSQLLedgerRepository{db: db}
}

// Create inserts a new rotation record. Returns ErrRotationInProgress if an
// open record already exists for the key type.
func (p *PostgreSQLLedgerRepository) Create(
	ctx context.Context,
	record *rotationDomain.RotationRecord,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO rotation_history
			  (id, key_type, reason, old_fingerprint, new_fingerprint, records_affected, status, failure_reason, started_at, completed_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := querier.ExecContext(
		ctx,
		query,
		record.ID,
		string(record.KeyType),
		string(record.Reason),
		record.OldFingerprint,
		record.NewFingerprint,
		record.RecordsAffected,
		string(record.Status),
		record.FailureReason,
		record.StartedAt,
		record.CompletedAt,
	)
	if err != nil {
		if isPostgreSQLUniqueViolation(err) {
			return rotationDomain.ErrRotationInProgress
		}
		return apperrors.Wrap(err, "failed to create rotation record")
	}

	return nil
}

// MarkInProgress transitions a pending record to in_progress.
func (p *PostgreSQLLedgerRepository) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE rotation_history SET status = $1 WHERE id = $2 AND status = $3`

	result, err := querier.ExecContext(
		ctx, query,
		string(rotationDomain.StatusInProgress), id, string(rotationDomain.StatusPending),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark rotation in progress")
	}
	return requireOneRow(result, "rotation record not pending")
}

// Complete transitions an in_progress record to completed. Completed records
// are terminal: the status guard means a second call cannot touch the row.
func (p *PostgreSQLLedgerRepository) Complete(
	ctx context.Context,
	id uuid.UUID,
	newFingerprint string,
	recordsAffected int64,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE rotation_history
			  SET status = $1, new_fingerprint = $2, records_affected = $3, completed_at = NOW()
			  WHERE id = $4 AND status = $5`

	result, err := querier.ExecContext(
		ctx, query,
		string(rotationDomain.StatusCompleted), newFingerprint, recordsAffected,
		id, string(rotationDomain.StatusInProgress),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete rotation record")
	}
	return requireOneRow(result, "rotation record not in progress")
}

// Fail transitions an open record to failed with counts-so-far. Progress
// markers (cursors) are left untouched so the rotation stays resumable.
func (p *PostgreSQLLedgerRepository) Fail(
	ctx context.Context,
	id uuid.UUID,
	failureReason string,
	recordsAffected int64,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE rotation_history
			  SET status = $1, failure_reason = $2, records_affected = $3, completed_at = NOW()
			  WHERE id = $4 AND status IN ($5, $6)`

	result, err := querier.ExecContext(
		ctx, query,
		string(rotationDomain.StatusFailed), failureReason, recordsAffected,
		id, string(rotationDomain.StatusPending), string(rotationDomain.StatusInProgress),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to fail rotation record")
	}
	return requireOneRow(result, "rotation record not open")
}

// FailStale marks open records started before the cutoff as failed and
// returns how many were closed. Releases the single-flight lock after a
// crashed rotation; records younger than the cutoff are left running.
func (p *PostgreSQLLedgerRepository) FailStale(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
	cutoff time.Time,
	failureReason string,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE rotation_history
			  SET status = $1, failure_reason = $2, completed_at = NOW()
			  WHERE key_type = $3 AND status IN ($4, $5) AND started_at < $6`

	result, err := querier.ExecContext(
		ctx, query,
		string(rotationDomain.StatusFailed), failureReason,
		string(keyType), string(rotationDomain.StatusPending), string(rotationDomain.StatusInProgress),
		cutoff,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to fail stale rotation records")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected, nil
}

// LastCompleted returns the most recent completed rotation for a key type.
// Drives key-age compliance alerting.
func (p *PostgreSQLLedgerRepository) LastCompleted(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
) (*rotationDomain.RotationRecord, error) {
	query := `SELECT id, key_type, reason, old_fingerprint, new_fingerprint, records_affected, status, failure_reason, started_at, completed_at
			  FROM rotation_history
			  WHERE key_type = $1 AND status = $2
			  ORDER BY completed_at DESC
			  LIMIT 1`

	return p.queryOne(ctx, query, string(keyType), string(rotationDomain.StatusCompleted))
}

// Latest returns the most recent rotation record of any status for a key type.
func (p *PostgreSQLLedgerRepository) Latest(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
) (*rotationDomain.RotationRecord, error) {
	query := `SELECT id, key_type, reason, old_fingerprint, new_fingerprint, records_affected, status, failure_reason, started_at, completed_at
			  FROM rotation_history
			  WHERE key_type = $1
			  ORDER BY started_at DESC
			  LIMIT 1`

	return p.queryOne(ctx, query, string(keyType))
}

func (p *PostgreSQLLedgerRepository) queryOne(
	ctx context.Context,
	query string,
	args ...any,
) (*rotationDomain.RotationRecord, error) {
	querier := database.GetTx(ctx, p.db)

	var record rotationDomain.RotationRecord
	var keyType, reason, status string

	err := querier.QueryRowContext(ctx, query, args...).Scan(
		&record.ID,
		&keyType,
		&reason,
		&record.OldFingerprint,
		&record.NewFingerprint,
		&record.RecordsAffected,
		&status,
		&record.FailureReason,
		&record.StartedAt,
		&record.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, rotationDomain.ErrNoCompletedRotation
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get rotation record")
	}

	record.KeyType = cryptoDomain.KeyType(keyType)
	record.Reason = rotationDomain.Reason(reason)
	record.Status = rotationDomain.Status(status)
	return &record, nil
}

// requireOneRow maps a zero-row update to ErrRecordImmutable.
func requireOneRow(result sql.Result, message string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return apperrors.Wrap(rotationDomain.ErrRecordImmutable, message)
	}
	return nil
}

// isPostgreSQLUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPostgreSQLUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	// PostgreSQL: "duplicate key value violates unique constraint" or "pq: duplicate key"
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}
