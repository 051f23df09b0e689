package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	appValidation "github.com/allisson/phivault/internal/validation"
)

// RecoverStaleInput carries one stale rotation recovery request.
type RecoverStaleInput struct {
	KeyType cryptoDomain.KeyType
	// OlderThan is the minimum age an open record must have before it is
	// considered abandoned. Keeps a recovery run from killing a rotation
	// that is still making progress.
	OlderThan time.Duration
	ActorID   *uuid.UUID
}

// Validate checks the recovery input.
func (i *RecoverStaleInput) Validate() error {
	err := validation.ValidateStruct(i,
		validation.Field(&i.KeyType,
			validation.Required,
			validation.By(func(value interface{}) error {
				if !i.KeyType.Valid() {
					return validation.NewError("validation_key_type", "unknown key type")
				}
				return nil
			}),
		),
		validation.Field(&i.OlderThan,
			validation.Required,
			validation.By(func(value interface{}) error {
				if i.OlderThan <= 0 {
					return validation.NewError("validation_older_than", "must be a positive duration")
				}
				return nil
			}),
		),
	)
	return appValidation.WrapValidationError(err)
}

// RecoverStale releases the single-flight lock left behind when a rotation
// process died without reaching Complete or Fail: open ledger records older
// than the threshold are marked failed. Cursors are left untouched, so the
// next rotation run with the same key resumes from the last committed page.
// Returns how many records were recovered.
func (uc *RotationUseCase) RecoverStale(
	ctx context.Context,
	input *RecoverStaleInput,
) (int64, error) {
	if err := input.Validate(); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-input.OlderThan)
	recovered, err := uc.ledgerRepo.FailStale(
		ctx, input.KeyType, cutoff, "abandoned by interrupted process, recovered by operator",
	)
	if err != nil {
		return 0, err
	}
	if recovered == 0 {
		return 0, nil
	}

	uc.auditRecovery(ctx, input, recovered)
	uc.logger.Info("stale rotation records recovered",
		slog.String("key_type", string(input.KeyType)),
		slog.Int64("recovered", recovered),
		slog.Duration("older_than", input.OlderThan),
	)

	return recovered, nil
}

func (uc *RotationUseCase) auditRecovery(ctx context.Context, input *RecoverStaleInput, recovered int64) {
	event := auditDomain.NewAuditEvent(
		auditDomain.CorrelationIDFromContext(ctx),
		input.ActorID,
		auditDomain.ActionRotationFailed,
		"rotation",
		string(input.KeyType),
		false,
		auditDomain.SeverityHigh,
		map[string]any{
			"recovered":  recovered,
			"older_than": input.OlderThan.String(),
		},
	)
	if err := uc.recorder.Record(ctx, event); err != nil {
		uc.logger.Error("failed to record rotation recovery audit event",
			slog.String("key_type", string(input.KeyType)),
			slog.Any("error", err),
		)
	}
}
