// Package usecase implements the PHI field facade: the single entry point
// application code uses to read and write encrypted PHI scalars. Every access
// through the facade produces exactly one audit event.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
	apperrors "github.com/allisson/phivault/internal/errors"
	"github.com/allisson/phivault/internal/registry"
)

// Recorder is the audit sink field accesses are reported to.
type Recorder interface {
	Record(ctx context.Context, event *auditDomain.AuditEvent) error
}

// FieldAccess identifies one PHI field access: which registered column, which
// row, and on whose behalf.
type FieldAccess struct {
	Table      string
	Column     string
	ResourceID string
	ActorID    *uuid.UUID
}

// FieldUseCase defines the PHI field operations.
type FieldUseCase interface {
	// EncryptField encrypts a plaintext scalar into its stored envelope
	// form. Empty input yields an empty envelope string.
	EncryptField(ctx context.Context, access FieldAccess, plaintext string) (string, error)

	// DecryptField recovers the plaintext from a stored envelope string.
	// An empty envelope yields "".
	DecryptField(ctx context.Context, access FieldAccess, envelope string) (string, error)

	// RecordDeletion audits the removal of a PHI value. The delete itself
	// belongs to the owning table's data layer.
	RecordDeletion(ctx context.Context, access FieldAccess) error
}

// FieldService implements FieldUseCase over the envelope cipher and the field
// registry. Accesses to columns outside the registry are refused: an
// unregistered column would silently escape key rotation.
type FieldService struct {
	cipher   cryptoService.EnvelopeCipher
	material *cryptoDomain.KeyMaterial
	recorder Recorder
	logger   *slog.Logger

	registered map[string]struct{}
}

// NewFieldService creates a new FieldService.
func NewFieldService(
	cipher cryptoService.EnvelopeCipher,
	material *cryptoDomain.KeyMaterial,
	reg *registry.Registry,
	recorder Recorder,
	logger *slog.Logger,
) *FieldService {
	registered := make(map[string]struct{})
	for _, entry := range reg.All() {
		registered[entry.Table+"."+entry.EncryptedColumn] = struct{}{}
	}

	return &FieldService{
		cipher:     cipher,
		material:   material,
		recorder:   recorder,
		logger:     logger,
		registered: registered,
	}
}

// EncryptField encrypts one PHI scalar and audits the write.
func (s *FieldService) EncryptField(
	ctx context.Context,
	access FieldAccess,
	plaintext string,
) (string, error) {
	if err := s.checkRegistered(access); err != nil {
		return "", err
	}

	envelope, err := s.cipher.Encrypt(plaintext, s.material.Active)
	if err != nil {
		s.audit(ctx, access, auditDomain.ActionPHIWrite, false, auditDomain.SeverityMedium)
		return "", err
	}

	s.audit(ctx, access, auditDomain.ActionPHIWrite, true, auditDomain.SeverityLow)

	if envelope == nil {
		return "", nil
	}
	return envelope.String(), nil
}

// DecryptField decrypts one stored envelope and audits the read. A failed
// decryption is audited as a high-severity DECRYPTION_FAILURE: it means a
// wrong key, a tampered envelope, or corruption.
func (s *FieldService) DecryptField(
	ctx context.Context,
	access FieldAccess,
	envelope string,
) (string, error) {
	if err := s.checkRegistered(access); err != nil {
		return "", err
	}

	if envelope == "" {
		s.audit(ctx, access, auditDomain.ActionPHIRead, true, auditDomain.SeverityLow)
		return "", nil
	}

	parsed, err := cryptoDomain.ParseEnvelope(envelope)
	if err != nil {
		s.audit(ctx, access, auditDomain.ActionDecryptionFailure, false, auditDomain.SeverityHigh)
		return "", err
	}

	plaintext, err := s.cipher.Decrypt(parsed, s.material)
	if err != nil {
		if errors.Is(err, cryptoDomain.ErrDecryptionFailed) {
			s.audit(ctx, access, auditDomain.ActionDecryptionFailure, false, auditDomain.SeverityHigh)
		} else {
			s.audit(ctx, access, auditDomain.ActionPHIRead, false, auditDomain.SeverityMedium)
		}
		return "", err
	}

	s.audit(ctx, access, auditDomain.ActionPHIRead, true, auditDomain.SeverityLow)
	return plaintext, nil
}

// RecordDeletion audits the removal of a PHI value.
func (s *FieldService) RecordDeletion(ctx context.Context, access FieldAccess) error {
	if err := s.checkRegistered(access); err != nil {
		return err
	}
	s.audit(ctx, access, auditDomain.ActionPHIDelete, true, auditDomain.SeverityMedium)
	return nil
}

// checkRegistered refuses accesses to columns outside the field registry.
func (s *FieldService) checkRegistered(access FieldAccess) error {
	if _, ok := s.registered[access.Table+"."+access.Column]; !ok {
		return fmt.Errorf(
			"%w: %s.%s is not a registered encrypted column",
			apperrors.ErrInvalidInput, access.Table, access.Column,
		)
	}
	return nil
}

// audit emits the single event for one field access. Emission failures are
// logged, not propagated: the access itself already succeeded or failed on
// its own terms.
func (s *FieldService) audit(
	ctx context.Context,
	access FieldAccess,
	action auditDomain.Action,
	success bool,
	severity auditDomain.Severity,
) {
	event := auditDomain.NewAuditEvent(
		auditDomain.CorrelationIDFromContext(ctx),
		access.ActorID,
		action,
		access.Table,
		access.ResourceID,
		success,
		severity,
		map[string]any{"column": access.Column},
	)
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Error("failed to record field access audit event",
			slog.String("table", access.Table),
			slog.String("column", access.Column),
			slog.Any("error", err),
		)
	}
}
