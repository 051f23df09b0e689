// Package usecase implements the key rotation business logic: the batched
// re-encryption run for the PHI key and the session-invalidation run for the
// session secret, both recorded in the rotation ledger.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/registry"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
	rotationRepository "github.com/allisson/phivault/internal/rotation/repository"
)

// LedgerRepository defines rotation ledger persistence operations.
type LedgerRepository interface {
	Create(ctx context.Context, record *rotationDomain.RotationRecord) error
	MarkInProgress(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, newFingerprint string, recordsAffected int64) error
	Fail(ctx context.Context, id uuid.UUID, failureReason string, recordsAffected int64) error
	// FailStale marks open records started before the cutoff as failed,
	// releasing the single-flight lock left behind by a crashed process.
	FailStale(ctx context.Context, keyType cryptoDomain.KeyType, cutoff time.Time, failureReason string) (int64, error)
	LastCompleted(ctx context.Context, keyType cryptoDomain.KeyType) (*rotationDomain.RotationRecord, error)
	Latest(ctx context.Context, keyType cryptoDomain.KeyType) (*rotationDomain.RotationRecord, error)
}

// CursorRepository defines resumable rotation cursor operations.
type CursorRepository interface {
	Get(ctx context.Context, keyType cryptoDomain.KeyType, table string) (*rotationDomain.Cursor, error)
	Save(ctx context.Context, cursor *rotationDomain.Cursor) error
	Clear(ctx context.Context, keyType cryptoDomain.KeyType) error
}

// RecordRepository pages through registered encrypted columns and rewrites
// single envelopes.
type RecordRepository interface {
	ReadPage(ctx context.Context, entry registry.Entry, afterID int64, limit int) ([]rotationRepository.EncryptedRow, error)
	WriteValue(ctx context.Context, entry registry.Entry, id int64, value string) error
}

// SessionRepository defines the session operations rotation needs.
type SessionRepository interface {
	CountValid(ctx context.Context) (int64, error)
	InvalidateAll(ctx context.Context) (int64, error)
}

// Recorder is the audit sink rotation emits lifecycle events to.
type Recorder interface {
	Record(ctx context.Context, event *auditDomain.AuditEvent) error
}

// KeyAge reports how old a key is relative to its rotation policy.
type KeyAge struct {
	KeyType       cryptoDomain.KeyType `json:"key_type"`
	LastRotatedAt *time.Time           `json:"last_rotated_at,omitempty"`
	Age           time.Duration        `json:"age"`
	MaxAge        time.Duration        `json:"max_age"`
	Overdue       bool                 `json:"overdue"`
}

// UseCase defines the rotation operations.
type UseCase interface {
	RotatePHIKey(ctx context.Context, input *RotatePHIKeyInput) (*RotationSummary, error)
	RotateSessionSecret(ctx context.Context, input *RotateSessionSecretInput) (*RotationSummary, error)
	RecoverStale(ctx context.Context, input *RecoverStaleInput) (int64, error)
	KeyAges(ctx context.Context) ([]KeyAge, error)
	Status(ctx context.Context, keyType cryptoDomain.KeyType) (*rotationDomain.RotationRecord, error)
}
