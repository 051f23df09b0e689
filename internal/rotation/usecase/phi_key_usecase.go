package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"golang.org/x/sync/errgroup"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
	"github.com/allisson/phivault/internal/database"
	"github.com/allisson/phivault/internal/registry"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
	rotationRepository "github.com/allisson/phivault/internal/rotation/repository"
	appValidation "github.com/allisson/phivault/internal/validation"
)

// Config holds rotation use case tuning.
type Config struct {
	// PageSize bounds how many rows one re-encryption transaction touches.
	PageSize int
	// Workers bounds how many registry entries re-encrypt concurrently.
	Workers int
	// PHIKeyMaxAge and SessionSecretMaxAge drive key-age compliance checks.
	PHIKeyMaxAge        time.Duration
	SessionSecretMaxAge time.Duration
}

// RotatePHIKeyInput carries one PHI key rotation request.
type RotatePHIKeyInput struct {
	NewKey  *cryptoDomain.Key
	Reason  rotationDomain.Reason
	ActorID *uuid.UUID
	// DryRun counts the rows a rotation would migrate without writing
	// anything: no ledger record, no cursor movement, no row updates.
	DryRun bool
}

// Validate checks the rotation input.
func (i *RotatePHIKeyInput) Validate() error {
	err := validation.ValidateStruct(i,
		validation.Field(&i.NewKey, validation.Required),
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

// RotationSummary reports the outcome of a rotation run.
type RotationSummary struct {
	RotationID      uuid.UUID            `json:"rotation_id"`
	KeyType         cryptoDomain.KeyType `json:"key_type"`
	OldFingerprint  string               `json:"old_fingerprint"`
	NewFingerprint  string               `json:"new_fingerprint"`
	RecordsScanned  int64                `json:"records_scanned"`
	RecordsMigrated int64                `json:"records_migrated"`
	RecordsSkipped  int64                `json:"records_skipped"`
	DryRun          bool                 `json:"dry_run"`
	Duration        time.Duration        `json:"duration"`
}

// RotationUseCase implements the rotation orchestration for both key types.
//
// A PHI key rotation walks every registry entry in primary-key order, pages
// through the encrypted rows, decrypts each envelope with the old key, and
// rewrites it under the new key. Each page commits atomically together with
// its cursor, so a failed run resumes from the last committed page instead of
// restarting. Rows already readable under the new key are skipped, which makes
// rerunning a completed or interrupted rotation idempotent.
type RotationUseCase struct {
	config        Config
	txManager     database.TxManager
	ledgerRepo    LedgerRepository
	cursorRepo    CursorRepository
	recordRepo    RecordRepository
	sessionRepo   SessionRepository
	cipher        cryptoService.EnvelopeCipher
	material      *cryptoDomain.KeyMaterial
	sessionSecret *cryptoDomain.Key
	registry      *registry.Registry
	recorder      Recorder
	logger        *slog.Logger
}

// NewRotationUseCase creates a new RotationUseCase.
func NewRotationUseCase(
	config Config,
	txManager database.TxManager,
	ledgerRepo LedgerRepository,
	cursorRepo CursorRepository,
	recordRepo RecordRepository,
	sessionRepo SessionRepository,
	cipher cryptoService.EnvelopeCipher,
	material *cryptoDomain.KeyMaterial,
	sessionSecret *cryptoDomain.Key,
	reg *registry.Registry,
	recorder Recorder,
	logger *slog.Logger,
) *RotationUseCase {
	if config.PageSize <= 0 {
		config.PageSize = 500
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	return &RotationUseCase{
		config:        config,
		txManager:     txManager,
		ledgerRepo:    ledgerRepo,
		cursorRepo:    cursorRepo,
		recordRepo:    recordRepo,
		sessionRepo:   sessionRepo,
		cipher:        cipher,
		material:      material,
		sessionSecret: sessionSecret,
		registry:      reg,
		recorder:      recorder,
		logger:        logger,
	}
}

// RotatePHIKey re-encrypts every registered PHI column under the new key.
//
// Only one rotation per key type may run at a time; a concurrent attempt
// fails fast with ErrRotationInProgress. Rotating to the current key is
// rejected with ErrSameKey before any row is touched.
func (uc *RotationUseCase) RotatePHIKey(
	ctx context.Context,
	input *RotatePHIKeyInput,
) (*RotationSummary, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.NewKey.Equal(uc.material.Active) {
		return nil, rotationDomain.ErrSameKey
	}

	started := time.Now()
	oldFingerprint := uc.material.Active.Fingerprint()
	entries := uc.registry.Entries(cryptoDomain.KeyTypePHIEncryption)

	if input.DryRun {
		summary, err := uc.dryRunPHIKey(ctx, input.NewKey, entries)
		if err != nil {
			return nil, err
		}
		summary.OldFingerprint = oldFingerprint
		summary.NewFingerprint = input.NewKey.Fingerprint()
		summary.Duration = time.Since(started)
		return summary, nil
	}

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, input.Reason, oldFingerprint,
	)
	record.NewFingerprint = input.NewKey.Fingerprint()

	// The single-flight guard lives in the ledger: creating a second open
	// record for the same key type fails with ErrRotationInProgress.
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		return uc.ledgerRepo.Create(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	if err := uc.ledgerRepo.MarkInProgress(ctx, record.ID); err != nil {
		// The record must not stay open or no rotation could ever start
		// again.
		uc.failRecord(ctx, record.ID, err.Error(), 0)
		return nil, err
	}

	uc.auditRotation(ctx, auditDomain.ActionRotationStarted, record, input.ActorID, nil)
	uc.logger.Info("phi key rotation started",
		slog.String("rotation_id", record.ID.String()),
		slog.String("old_fingerprint", oldFingerprint),
		slog.String("new_fingerprint", record.NewFingerprint),
		slog.String("reason", string(input.Reason)),
	)

	var scanned, migrated, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.config.Workers)
	for _, entry := range entries {
		g.Go(func() error {
			return uc.rotateEntry(gctx, entry, input.NewKey, &scanned, &migrated, &skipped)
		})
	}

	if err := g.Wait(); err != nil {
		uc.failRecord(ctx, record.ID, err.Error(), migrated.Load())
		uc.auditRotation(ctx, auditDomain.ActionRotationFailed, record, input.ActorID, map[string]any{
			"records_migrated": migrated.Load(),
		})
		uc.logger.Error("phi key rotation failed",
			slog.String("rotation_id", record.ID.String()),
			slog.Int64("records_migrated", migrated.Load()),
			slog.Any("error", err),
		)
		return nil, &rotationDomain.PartialRotationError{
			RecordsMigrated: migrated.Load(),
			Err:             err,
		}
	}

	if err := uc.ledgerRepo.Complete(ctx, record.ID, record.NewFingerprint, migrated.Load()); err != nil {
		uc.failRecord(ctx, record.ID, err.Error(), migrated.Load())
		return nil, err
	}
	if err := uc.cursorRepo.Clear(ctx, cryptoDomain.KeyTypePHIEncryption); err != nil {
		return nil, err
	}

	uc.auditRotation(ctx, auditDomain.ActionRotationCompleted, record, input.ActorID, map[string]any{
		"records_migrated": migrated.Load(),
	})
	uc.logger.Info("phi key rotation completed",
		slog.String("rotation_id", record.ID.String()),
		slog.Int64("records_migrated", migrated.Load()),
		slog.Int64("records_skipped", skipped.Load()),
		slog.Duration("duration", time.Since(started)),
	)

	return &RotationSummary{
		RotationID:      record.ID,
		KeyType:         cryptoDomain.KeyTypePHIEncryption,
		OldFingerprint:  oldFingerprint,
		NewFingerprint:  record.NewFingerprint,
		RecordsScanned:  scanned.Load(),
		RecordsMigrated: migrated.Load(),
		RecordsSkipped:  skipped.Load(),
		Duration:        time.Since(started),
	}, nil
}

// rotateEntry re-encrypts one registry entry page by page. Each page and its
// cursor commit in one transaction; cancellation is honored between pages so
// an interrupted run never leaves a torn page.
func (uc *RotationUseCase) rotateEntry(
	ctx context.Context,
	entry registry.Entry,
	newKey *cryptoDomain.Key,
	scanned, migrated, skipped *atomic.Int64,
) error {
	afterID := int64(0)
	cursor, err := uc.cursorRepo.Get(ctx, entry.KeyType, entry.Table)
	if err != nil {
		return err
	}
	if cursor != nil {
		afterID = cursor.LastID
		uc.logger.Info("resuming rotation from cursor",
			slog.String("table", entry.Table),
			slog.Int64("last_id", cursor.LastID),
		)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := uc.recordRepo.ReadPage(ctx, entry, afterID, uc.config.PageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
			for _, row := range rows {
				scanned.Add(1)

				migratedRow, err := uc.rotateRow(ctx, entry, row, newKey)
				if err != nil {
					return err
				}
				if migratedRow {
					migrated.Add(1)
				} else {
					skipped.Add(1)
				}
			}

			return uc.cursorRepo.Save(ctx, &rotationDomain.Cursor{
				KeyType: entry.KeyType,
				Table:   entry.Table,
				LastID:  rows[len(rows)-1].ID,
			})
		})
		if err != nil {
			return err
		}

		afterID = rows[len(rows)-1].ID
		if len(rows) < uc.config.PageSize {
			return nil
		}
	}
}

// rotateRow rewrites one envelope under the new key. Returns false when the
// row already decrypts under the new key and needs no write.
func (uc *RotationUseCase) rotateRow(
	ctx context.Context,
	entry registry.Entry,
	row rotationRepository.EncryptedRow,
	newKey *cryptoDomain.Key,
) (bool, error) {
	envelope, err := cryptoDomain.ParseEnvelope(row.Value)
	if err != nil {
		return false, fmt.Errorf("%s/%d: %w", entry.Table, row.ID, err)
	}

	// Rows written by an interrupted run of the same rotation already
	// decrypt under the new key.
	if _, err := uc.cipher.DecryptWith(envelope, newKey); err == nil {
		return false, nil
	}

	plaintext, err := uc.cipher.Decrypt(envelope, uc.material)
	if err != nil {
		if errors.Is(err, cryptoDomain.ErrDecryptionFailed) {
			uc.auditDecryptionFailure(ctx, entry, row.ID)
			return false, &rotationDomain.RowUnreadableError{Table: entry.Table, RowID: row.ID}
		}
		return false, err
	}

	reEncrypted, err := uc.cipher.Encrypt(plaintext, newKey)
	if err != nil {
		return false, err
	}

	if err := uc.recordRepo.WriteValue(ctx, entry, row.ID, reEncrypted.String()); err != nil {
		return false, err
	}
	return true, nil
}

// dryRunPHIKey classifies every row without writing: counts rows that would
// migrate and rows already under the new key.
func (uc *RotationUseCase) dryRunPHIKey(
	ctx context.Context,
	newKey *cryptoDomain.Key,
	entries []registry.Entry,
) (*RotationSummary, error) {
	var scanned, wouldMigrate, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.config.Workers)
	for _, entry := range entries {
		g.Go(func() error {
			afterID := int64(0)
			for {
				if err := gctx.Err(); err != nil {
					return err
				}

				rows, err := uc.recordRepo.ReadPage(gctx, entry, afterID, uc.config.PageSize)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return nil
				}

				for _, row := range rows {
					scanned.Add(1)
					envelope, err := cryptoDomain.ParseEnvelope(row.Value)
					if err != nil {
						return fmt.Errorf("%s/%d: %w", entry.Table, row.ID, err)
					}
					if _, err := uc.cipher.DecryptWith(envelope, newKey); err == nil {
						skipped.Add(1)
						continue
					}
					if _, err := uc.cipher.Decrypt(envelope, uc.material); err != nil {
						return &rotationDomain.RowUnreadableError{Table: entry.Table, RowID: row.ID}
					}
					wouldMigrate.Add(1)
				}

				afterID = rows[len(rows)-1].ID
				if len(rows) < uc.config.PageSize {
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &RotationSummary{
		KeyType:         cryptoDomain.KeyTypePHIEncryption,
		RecordsScanned:  scanned.Load(),
		RecordsMigrated: wouldMigrate.Load(),
		RecordsSkipped:  skipped.Load(),
		DryRun:          true,
	}, nil
}

// failRecord closes an open ledger record as failed, best effort: when the
// store is unreachable the failure is logged and RecoverStale remains the
// escape hatch for the still-open record.
func (uc *RotationUseCase) failRecord(
	ctx context.Context,
	id uuid.UUID,
	failureReason string,
	recordsAffected int64,
) {
	if err := uc.ledgerRepo.Fail(ctx, id, failureReason, recordsAffected); err != nil {
		uc.logger.Error("failed to record rotation failure",
			slog.String("rotation_id", id.String()),
			slog.Any("error", err),
		)
	}
}

// auditRotation emits one rotation lifecycle event. Audit emission failures
// are logged, not propagated: a rotation must not fail because its trail
// write is degraded.
func (uc *RotationUseCase) auditRotation(
	ctx context.Context,
	action auditDomain.Action,
	record *rotationDomain.RotationRecord,
	actorID *uuid.UUID,
	extra map[string]any,
) {
	severity := auditDomain.SeverityMedium
	if action == auditDomain.ActionRotationFailed {
		severity = auditDomain.SeverityHigh
	}

	metadata := map[string]any{
		"old_fingerprint": record.OldFingerprint,
		"new_fingerprint": record.NewFingerprint,
		"reason":          string(record.Reason),
	}
	for k, v := range extra {
		metadata[k] = v
	}

	event := auditDomain.NewAuditEvent(
		auditDomain.CorrelationIDFromContext(ctx),
		actorID,
		action,
		"rotation",
		record.ID.String(),
		action != auditDomain.ActionRotationFailed,
		severity,
		metadata,
	)
	if err := uc.recorder.Record(ctx, event); err != nil {
		uc.logger.Error("failed to record rotation audit event",
			slog.String("rotation_id", record.ID.String()),
			slog.Any("error", err),
		)
	}
}

// auditDecryptionFailure records an undecryptable row. Only identifiers are
// carried, never data.
func (uc *RotationUseCase) auditDecryptionFailure(
	ctx context.Context,
	entry registry.Entry,
	rowID int64,
) {
	event := auditDomain.NewAuditEvent(
		auditDomain.CorrelationIDFromContext(ctx),
		nil,
		auditDomain.ActionDecryptionFailure,
		entry.Table,
		fmt.Sprintf("%d", rowID),
		false,
		auditDomain.SeverityHigh,
		map[string]any{"column": entry.EncryptedColumn, "during": "rotation"},
	)
	if err := uc.recorder.Record(ctx, event); err != nil {
		uc.logger.Error("failed to record decryption failure audit event",
			slog.String("table", entry.Table),
			slog.Any("error", err),
		)
	}
}
