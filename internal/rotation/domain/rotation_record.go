// Package domain defines the rotation ledger entities: one append-only record
// per key-rotation attempt plus the persisted cursors that make batched
// re-encryption resumable.
package domain

import (
	"time"

	"github.com/google/uuid"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
)

// Reason records why a rotation was triggered.
type Reason string

const (
	ReasonScheduled   Reason = "scheduled"
	ReasonCompromised Reason = "compromised"
	ReasonManual      Reason = "manual"
)

// Valid reports whether the reason is one of the known trigger reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonScheduled, ReasonCompromised, ReasonManual:
		return true
	}
	return false
}

// Status is the lifecycle state of a rotation attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// RotationRecord is one row of the rotation ledger. Records are append-only:
// once status reaches completed the row is never mutated again, and
// corrections require a new record.
type RotationRecord struct {
	ID              uuid.UUID
	KeyType         cryptoDomain.KeyType
	Reason          Reason
	OldFingerprint  string
	NewFingerprint  string
	RecordsAffected int64
	Status          Status
	FailureReason   *string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// NewRotationRecord builds a pending record for a rotation attempt.
func NewRotationRecord(
	keyType cryptoDomain.KeyType,
	reason Reason,
	oldFingerprint string,
) *RotationRecord {
	return &RotationRecord{
		ID:             uuid.Must(uuid.NewV7()),
		KeyType:        keyType,
		Reason:         reason,
		OldFingerprint: oldFingerprint,
		Status:         StatusPending,
		StartedAt:      time.Now().UTC(),
	}
}
