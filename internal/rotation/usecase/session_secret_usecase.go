package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
	appValidation "github.com/allisson/phivault/internal/validation"
)

// RotateSessionSecretInput carries one session secret rotation request.
type RotateSessionSecretInput struct {
	NewSecret *cryptoDomain.Key
	Reason    rotationDomain.Reason
	ActorID   *uuid.UUID
}

// Validate checks the rotation input.
func (i *RotateSessionSecretInput) Validate() error {
	err := validation.ValidateStruct(i,
		validation.Field(&i.NewSecret, validation.Required),
		validation.Field(&i.Reason,
			validation.Required,
			validation.By(func(value interface{}) error {
				if !i.Reason.Valid() {
					return validation.NewError("validation_reason", "unknown rotation reason")
				}
				return nil
			}),
		),
	)
	return appValidation.WrapValidationError(err)
}

// RotateSessionSecret invalidates every live session in one bulk write and
// records the rotation in the ledger. Unlike PHI key rotation nothing is
// re-encrypted: session tokens derived from the old secret simply stop
// verifying, so invalidation is the whole migration.
func (uc *RotationUseCase) RotateSessionSecret(
	ctx context.Context,
	input *RotateSessionSecretInput,
) (*RotationSummary, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.NewSecret.Equal(uc.sessionSecret) {
		return nil, rotationDomain.ErrSameKey
	}

	started := time.Now()
	oldFingerprint := uc.sessionSecret.Fingerprint()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypeSessionSecret, input.Reason, oldFingerprint,
	)
	record.NewFingerprint = input.NewSecret.Fingerprint()

	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		return uc.ledgerRepo.Create(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	if err := uc.ledgerRepo.MarkInProgress(ctx, record.ID); err != nil {
		uc.failRecord(ctx, record.ID, err.Error(), 0)
		return nil, err
	}

	uc.auditRotation(ctx, auditDomain.ActionRotationStarted, record, input.ActorID, nil)

	var invalidated int64
	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		var err error
		invalidated, err = uc.sessionRepo.InvalidateAll(ctx)
		return err
	})
	if err != nil {
		uc.failRecord(ctx, record.ID, err.Error(), 0)
		uc.auditRotation(ctx, auditDomain.ActionRotationFailed, record, input.ActorID, nil)
		return nil, err
	}

	uc.auditSessionInvalidation(ctx, record, input.ActorID, invalidated)

	if err := uc.ledgerRepo.Complete(ctx, record.ID, record.NewFingerprint, invalidated); err != nil {
		uc.failRecord(ctx, record.ID, err.Error(), invalidated)
		return nil, err
	}

	uc.auditRotation(ctx, auditDomain.ActionRotationCompleted, record, input.ActorID, map[string]any{
		"sessions_invalidated": invalidated,
	})
	uc.logger.Info("session secret rotation completed",
		slog.String("rotation_id", record.ID.String()),
		slog.Int64("sessions_invalidated", invalidated),
	)

	return &RotationSummary{
		RotationID:      record.ID,
		KeyType:         cryptoDomain.KeyTypeSessionSecret,
		OldFingerprint:  oldFingerprint,
		NewFingerprint:  record.NewFingerprint,
		RecordsMigrated: invalidated,
		Duration:        time.Since(started),
	}, nil
}

// KeyAges reports the age of each managed key against its rotation policy.
// A key with no completed rotation on record reports as overdue: an unknown
// age must alert, not reassure.
func (uc *RotationUseCase) KeyAges(ctx context.Context) ([]KeyAge, error) {
	policies := []struct {
		keyType cryptoDomain.KeyType
		maxAge  time.Duration
	}{
		{cryptoDomain.KeyTypePHIEncryption, uc.config.PHIKeyMaxAge},
		{cryptoDomain.KeyTypeSessionSecret, uc.config.SessionSecretMaxAge},
	}

	now := time.Now().UTC()
	ages := make([]KeyAge, 0, len(policies))
	for _, policy := range policies {
		age := KeyAge{KeyType: policy.keyType, MaxAge: policy.maxAge}

		record, err := uc.ledgerRepo.LastCompleted(ctx, policy.keyType)
		switch {
		case err == nil:
			age.LastRotatedAt = record.CompletedAt
			if record.CompletedAt != nil {
				age.Age = now.Sub(*record.CompletedAt)
			}
			age.Overdue = age.Age > policy.maxAge
		case errors.Is(err, rotationDomain.ErrNoCompletedRotation):
			age.Overdue = true
		default:
			return nil, err
		}

		ages = append(ages, age)
	}

	return ages, nil
}

// Status returns the most recent rotation record for a key type.
func (uc *RotationUseCase) Status(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
) (*rotationDomain.RotationRecord, error) {
	return uc.ledgerRepo.Latest(ctx, keyType)
}

// auditSessionInvalidation records the bulk invalidation itself, separate
// from the rotation lifecycle events.
func (uc *RotationUseCase) auditSessionInvalidation(
	ctx context.Context,
	record *rotationDomain.RotationRecord,
	actorID *uuid.UUID,
	invalidated int64,
) {
	event := auditDomain.NewAuditEvent(
		auditDomain.CorrelationIDFromContext(ctx),
		actorID,
		auditDomain.ActionSessionsInvalidate,
		"session",
		"all",
		true,
		auditDomain.SeverityMedium,
		map[string]any{"sessions_invalidated": invalidated},
	)
	if err := uc.recorder.Record(ctx, event); err != nil {
		uc.logger.Error("failed to record session invalidation audit event",
			slog.String("rotation_id", record.ID.String()),
			slog.Any("error", err),
		)
	}
}
