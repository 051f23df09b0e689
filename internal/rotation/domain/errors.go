package domain

import (
	"fmt"

	"github.com/allisson/phivault/internal/errors"
)

var (
	// ErrRotationInProgress indicates a rotation for the same key type is
	// already running. Contention is rejected synchronously, never queued;
	// callers should not retry automatically.
	ErrRotationInProgress = errors.Wrap(errors.ErrConflict, "rotation already in progress")

	// ErrSameKey indicates the proposed new key is identical to the current one.
	ErrSameKey = errors.Wrap(errors.ErrInvalidInput, "new key must differ from current key")

	// ErrRecordImmutable indicates an attempt to update a completed ledger record.
	ErrRecordImmutable = errors.Wrap(errors.ErrConflict, "completed rotation records are immutable")

	// ErrNoCompletedRotation indicates no completed rotation exists for a key type.
	ErrNoCompletedRotation = errors.Wrap(errors.ErrNotFound, "no completed rotation")
)

// RowUnreadableError marks a row that could not be decrypted with any known
// key during rotation. It is surfaced, never silently skipped: skipping would
// leave the row permanently inaccessible once the old key is discarded. Only
// table and primary key are carried; never data.
type RowUnreadableError struct {
	Table string
	RowID int64
}

func (e *RowUnreadableError) Error() string {
	return fmt.Sprintf("row %s/%d could not be decrypted with any known key", e.Table, e.RowID)
}

// PartialRotationError marks a rotation that failed after migrating some rows.
// The ledger record is marked failed with counts-so-far; the persisted cursor
// makes rerunning the same rotation resume from where it stopped.
type PartialRotationError struct {
	RecordsMigrated int64
	Err             error
}

func (e *PartialRotationError) Error() string {
	return fmt.Sprintf("rotation failed after %d records: %v", e.RecordsMigrated, e.Err)
}

func (e *PartialRotationError) Unwrap() error {
	return e.Err
}
