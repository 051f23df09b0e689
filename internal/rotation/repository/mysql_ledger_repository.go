package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
)

// MySQLLedgerRepository implements rotation ledger persistence for MySQL.
//
// MySQL has no partial unique indexes, so the single-flight guard is a locking
// existence check: Create must run inside a transaction (database.TxManager),
// takes a FOR UPDATE scan over open records for the key type, and inserts only
// when none exist.
type MySQLLedgerRepository struct {
	db *sql.DB
}

// NewMySQLLedgerRepository creates a new MySQL rotation ledger repository.
func NewMySQLLedgerRepository(db *sql.DB) *MySQLLedgerRepository {
	return &MySQLLedgerRepository{db: db}
}

// Create inserts a new rotation record. Returns ErrRotationInProgress if an
// open record already exists for the key type.
func (m *MySQLLedgerRepository) Create(
	ctx context.Context,
	record *rotationDomain.RotationRecord,
) error {
	querier := database.GetTx(ctx, m.db)

	var open int
	err := querier.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM rotation_history WHERE key_type = ? AND status IN (?, ?) FOR UPDATE`,
		string(record.KeyType),
		string(rotationDomain.StatusPending),
		string(rotationDomain.StatusInProgress),
	).Scan(&open)
	if err != nil {
		return apperrors.Wrap(err, "failed to check open rotations")
	}
	if open > 0 {
		return rotationDomain.ErrRotationInProgress
	}

	query := `INSERT INTO rotation_history
			  (id, key_type, reason, old_fingerprint, new_fingerprint, records_affected, status, failure_reason, started_at, completed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		record.ID.String(),
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
		return apperrors.Wrap(err, "failed to create rotation record")
	}

	return nil
}

// MarkInProgress transitions a pending record to in_progress.
func (m *MySQLLedgerRepository) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, m.db)

	result, err := querier.ExecContext(
		ctx,
		`UPDATE rotation_history SET status = ? WHERE id = ? AND status = ?`,
		string(rotationDomain.StatusInProgress), id.String(), string(rotationDomain.StatusPending),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark rotation in progress")
	}
	return requireOneRow(result, "rotation record not pending")
}

// Complete transitions an in_progress record to completed.
func (m *MySQLLedgerRepository) Complete(
	ctx context.Context,
	id uuid.UUID,
	newFingerprint string,
	recordsAffected int64,
) error {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE rotation_history
			  SET status = ?, new_fingerprint = ?, records_affected = ?, completed_at = NOW()
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(
		ctx, query,
		string(rotationDomain.StatusCompleted), newFingerprint, recordsAffected,
		id.String(), string(rotationDomain.StatusInProgress),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete rotation record")
	}
	return requireOneRow(result, "rotation record not in progress")
}

// Fail transitions an open record to failed with counts-so-far.
func (m *MySQLLedgerRepository) Fail(
	ctx context.Context,
	id uuid.UUID,
	failureReason string,
	recordsAffected int64,
) error {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE rotation_history
			  SET status = ?, failure_reason = ?, records_affected = ?, completed_at = NOW()
			  WHERE id = ? AND status IN (?, ?)`

	result, err := querier.ExecContext(
		ctx, query,
		string(rotationDomain.StatusFailed), failureReason, recordsAffected,
		id.String(), string(rotationDomain.StatusPending), string(rotationDomain.StatusInProgress),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to fail rotation record")
	}
	return requireOneRow(result, "rotation record not open")
}

// FailStale marks open records started before the cutoff as failed and
// returns how many were closed.
func (m *MySQLLedgerRepository) FailStale(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
	cutoff time.Time,
	failureReason string,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE rotation_history
			  SET status = ?, failure_reason = ?, completed_at = NOW()
			  WHERE key_type = ? AND status IN (?, ?) AND started_at < ?`

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
func (m *MySQLLedgerRepository) LastCompleted(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
) (*rotationDomain.RotationRecord, error) {
	query := `SELECT id, key_type, reason, old_fingerprint, new_fingerprint, records_affected, status, failure_reason, started_at, completed_at
			  FROM rotation_history
			  WHERE key_type = ? AND status = ?
			  ORDER BY completed_at DESC
			  LIMIT 1`

	return m.queryOne(ctx, query, string(keyType), string(rotationDomain.StatusCompleted))
}

// Latest returns the most recent rotation record of any status for a key type.
func (m *MySQLLedgerRepository) Latest(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
) (*rotationDomain.RotationRecord, error) {
	query := `SELECT id, key_type, reason, old_fingerprint, new_fingerprint, records_affected, status, failure_reason, started_at, completed_at
			  FROM rotation_history
			  WHERE key_type = ?
			  ORDER BY started_at DESC
			  LIMIT 1`

	return m.queryOne(ctx, query, string(keyType))
}

func (m *MySQLLedgerRepository) queryOne(
	ctx context.Context,
	query string,
	args ...any,
) (*rotationDomain.RotationRecord, error) {
	querier := database.GetTx(ctx, m.db)

	var record rotationDomain.RotationRecord
	var id, keyType, reason, status string

	err := querier.QueryRowContext(ctx, query, args...).Scan(
		&id,
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

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to parse rotation record id")
	}
	record.ID = parsed
	record.KeyType = cryptoDomain.KeyType(keyType)
	record.Reason = rotationDomain.Reason(reason)
	record.Status = rotationDomain.Status(status)
	return &record, nil
}
