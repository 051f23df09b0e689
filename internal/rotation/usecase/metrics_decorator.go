package usecase

import (
	"context"
	"time"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/metrics"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
)

// useCaseWithMetrics decorates UseCase with metrics instrumentation.
type useCaseWithMetrics struct {
	next    UseCase
	metrics metrics.BusinessMetrics
}

// NewUseCaseWithMetrics wraps a rotation UseCase with metrics recording.
func NewUseCaseWithMetrics(useCase UseCase, m metrics.BusinessMetrics) UseCase {
	return &useCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

// RotatePHIKey records metrics for PHI key rotation runs.
func (u *useCaseWithMetrics) RotatePHIKey(
	ctx context.Context,
	input *RotatePHIKeyInput,
) (*RotationSummary, error) {
	start := time.Now()
	summary, err := u.next.RotatePHIKey(ctx, input)

	status := "success"
	if err != nil {
		status = "error"
	}

	u.metrics.RecordOperation(ctx, "rotation", "rotate_phi_key", status)
	u.metrics.RecordDuration(ctx, "rotation", "rotate_phi_key", time.Since(start), status)
	if summary != nil && !summary.DryRun {
		u.metrics.RecordRotatedRows(ctx, "all", summary.RecordsMigrated)
	}

	return summary, err
}

// RotateSessionSecret records metrics for session secret rotation runs.
func (u *useCaseWithMetrics) RotateSessionSecret(
	ctx context.Context,
	input *RotateSessionSecretInput,
) (*RotationSummary, error) {
	start := time.Now()
	summary, err := u.next.RotateSessionSecret(ctx, input)

	status := "success"
	if err != nil {
		status = "error"
	}

	u.metrics.RecordOperation(ctx, "rotation", "rotate_session_secret", status)
	u.metrics.RecordDuration(ctx, "rotation", "rotate_session_secret", time.Since(start), status)

	return summary, err
}

// RecoverStale records metrics for stale rotation recovery runs.
func (u *useCaseWithMetrics) RecoverStale(
	ctx context.Context,
	input *RecoverStaleInput,
) (int64, error) {
	start := time.Now()
	recovered, err := u.next.RecoverStale(ctx, input)

	status := "success"
	if err != nil {
		status = "error"
	}

	u.metrics.RecordOperation(ctx, "rotation", "recover_stale", status)
	u.metrics.RecordDuration(ctx, "rotation", "recover_stale", time.Since(start), status)

	return recovered, err
}

// KeyAges records metrics for key age checks.
func (u *useCaseWithMetrics) KeyAges(ctx context.Context) ([]KeyAge, error) {
	start := time.Now()
	ages, err := u.next.KeyAges(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}

	u.metrics.RecordOperation(ctx, "rotation", "key_ages", status)
	u.metrics.RecordDuration(ctx, "rotation", "key_ages", time.Since(start), status)

	return ages, err
}

// Status records metrics for rotation status lookups.
func (u *useCaseWithMetrics) Status(
	ctx context.Context,
	keyType cryptoDomain.KeyType,
) (*rotationDomain.RotationRecord, error) {
	start := time.Now()
	record, err := u.next.Status(ctx, keyType)

	status := "success"
	if err != nil {
		status = "error"
	}

	u.metrics.RecordOperation(ctx, "rotation", "status", status)
	u.metrics.RecordDuration(ctx, "rotation", "status", time.Since(start), status)

	return record, err
}
