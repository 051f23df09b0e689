// Package usecase implements the encrypted backup vault: opaque payloads are
// encrypted with the active PHI key and stored in a blob bucket, and restored
// payloads are decrypted and verified on the way out.
package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gocloud.dev/blob"

	// Blob drivers registered for bucket URL schemes.
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
	apperrors "github.com/allisson/phivault/internal/errors"
)

// Recorder is the audit sink backup operations are reported to.
type Recorder interface {
	Record(ctx context.Context, event *auditDomain.AuditEvent) error
}

// VaultUseCase defines the backup vault operations.
type VaultUseCase interface {
	Store(ctx context.Context, name string, payload []byte, actorID *uuid.UUID) error
	Fetch(ctx context.Context, name string, actorID *uuid.UUID) ([]byte, error)
	Close() error
}

// VaultService stores encrypted backups in a blob bucket. Payloads are opaque:
// the vault encrypts on the way in and decrypts on the way out, nothing more.
type VaultService struct {
	bucket   *blob.Bucket
	cipher   cryptoService.EnvelopeCipher
	material *cryptoDomain.KeyMaterial
	recorder Recorder
	logger   *slog.Logger
}

// NewVaultService opens the bucket at bucketURL ("s3://...", "gs://...",
// "azblob://...", "file://...", "mem://") and builds the vault over it.
func NewVaultService(
	ctx context.Context,
	bucketURL string,
	cipher cryptoService.EnvelopeCipher,
	material *cryptoDomain.KeyMaterial,
	recorder Recorder,
	logger *slog.Logger,
) (*VaultService, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open backup bucket")
	}

	return &VaultService{
		bucket:   bucket,
		cipher:   cipher,
		material: material,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Store encrypts a payload under the active PHI key and writes it to the
// bucket. The stored object is a serialized envelope; the bucket never sees
// plaintext.
func (s *VaultService) Store(
	ctx context.Context,
	name string,
	payload []byte,
	actorID *uuid.UUID,
) error {
	if name == "" {
		return fmt.Errorf("%w: backup name is required", apperrors.ErrInvalidInput)
	}

	envelope, err := s.cipher.Encrypt(string(payload), s.material.Active)
	if err != nil {
		s.audit(ctx, name, actorID, auditDomain.ActionBackupCreated, false)
		return err
	}
	if envelope == nil {
		return fmt.Errorf("%w: backup payload is empty", apperrors.ErrInvalidInput)
	}

	if err := s.bucket.WriteAll(ctx, name, []byte(envelope.String()), nil); err != nil {
		s.audit(ctx, name, actorID, auditDomain.ActionBackupCreated, false)
		return apperrors.Wrap(err, "failed to write backup")
	}

	s.audit(ctx, name, actorID, auditDomain.ActionBackupCreated, true)
	s.logger.Info("backup stored",
		slog.String("name", name),
		slog.String("key_fingerprint", s.material.Active.Fingerprint()),
	)
	return nil
}

// Fetch reads an encrypted backup and returns its decrypted payload.
func (s *VaultService) Fetch(
	ctx context.Context,
	name string,
	actorID *uuid.UUID,
) ([]byte, error) {
	raw, err := s.bucket.ReadAll(ctx, name)
	if err != nil {
		s.audit(ctx, name, actorID, auditDomain.ActionBackupRestored, false)
		return nil, apperrors.Wrap(err, "failed to read backup")
	}

	envelope, err := cryptoDomain.ParseEnvelope(string(raw))
	if err != nil {
		s.audit(ctx, name, actorID, auditDomain.ActionBackupRestored, false)
		return nil, err
	}

	plaintext, err := s.cipher.Decrypt(envelope, s.material)
	if err != nil {
		s.audit(ctx, name, actorID, auditDomain.ActionBackupRestored, false)
		return nil, err
	}

	s.audit(ctx, name, actorID, auditDomain.ActionBackupRestored, true)
	return []byte(plaintext), nil
}

// Close releases the bucket.
func (s *VaultService) Close() error {
	return s.bucket.Close()
}

func (s *VaultService) audit(
	ctx context.Context,
	name string,
	actorID *uuid.UUID,
	action auditDomain.Action,
	success bool,
) {
	severity := auditDomain.SeverityMedium
	if !success {
		severity = auditDomain.SeverityHigh
	}

	event := auditDomain.NewAuditEvent(
		auditDomain.CorrelationIDFromContext(ctx),
		actorID,
		action,
		"backup",
		name,
		success,
		severity,
		nil,
	)
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Error("failed to record backup audit event",
			slog.String("name", name),
			slog.Any("error", err),
		)
	}
}
