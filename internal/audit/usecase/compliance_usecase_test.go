package usecase

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	auditRepository "github.com/allisson/phivault/internal/audit/repository"
	"github.com/allisson/phivault/internal/registry"
)

func newComplianceService(repo AuditLogRepository, signer *mockAuditSigner) *ComplianceService {
	return NewComplianceService(ComplianceConfig{}, repo, signer, registry.Default(), slog.Default())
}

func TestComplianceService_Report(t *testing.T) {
	ctx := context.Background()
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	t.Run("aggregates counts and coverage", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("CountsByAction", ctx, from, to).Return(map[auditDomain.Action]int64{
			auditDomain.ActionPHIRead:           100,
			auditDomain.ActionPHIWrite:          40,
			auditDomain.ActionDecryptionFailure: 3,
			auditDomain.ActionRotationCompleted: 1,
		}, nil)
		mockRepo.On("SuccessFailureCounts", ctx, from, to).Return(int64(140), int64(4), nil)
		// Two of three registered tables saw PHI access. The unregistered
		// resource type does not count toward coverage.
		mockRepo.On("DistinctPHIResourceTypes", ctx, from, to).
			Return([]string{"patients", "clinical_notes", "lab_results"}, nil)

		service := newComplianceService(mockRepo, mockSigner)
		report, err := service.Report(ctx, from, to)
		require.NoError(t, err)

		assert.Equal(t, int64(144), report.TotalEvents)
		assert.Equal(t, int64(140), report.SuccessCount)
		assert.Equal(t, int64(4), report.FailureCount)
		assert.Equal(t, int64(3), report.DecryptionFailures)
		assert.Equal(t, int64(1), report.RotationsCompleted)
		assert.Equal(t, int64(0), report.RotationsFailed)
		assert.InDelta(t, 2.0/3.0, report.PHICoverageRatio, 0.001)
		mockRepo.AssertExpectations(t)
	})

	t.Run("empty window yields zero coverage", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("CountsByAction", ctx, from, to).Return(map[auditDomain.Action]int64{}, nil)
		mockRepo.On("SuccessFailureCounts", ctx, from, to).Return(int64(0), int64(0), nil)
		mockRepo.On("DistinctPHIResourceTypes", ctx, from, to).Return([]string{}, nil)

		service := newComplianceService(mockRepo, mockSigner)
		report, err := service.Report(ctx, from, to)
		require.NoError(t, err)

		assert.Equal(t, int64(0), report.TotalEvents)
		assert.Equal(t, 0.0, report.PHICoverageRatio)
	})

	t.Run("repository error propagates", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("CountsByAction", ctx, from, to).Return(nil, assert.AnError)

		service := newComplianceService(mockRepo, mockSigner)
		_, err := service.Report(ctx, from, to)
		assert.Error(t, err)
	})
}

func TestComplianceService_Anomalies(t *testing.T) {
	ctx := context.Background()
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	noCounts := map[auditDomain.Action]int64{}

	t.Run("quiet window has no anomalies", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("ActorActivity", ctx, from, to).Return([]auditRepository.ActorActivity{
			{ActorID: uuid.Must(uuid.NewV7()), Total: 100, Failures: 2, PHIReads: 50},
		}, nil)
		mockRepo.On("CountsByAction", ctx, from, to).Return(noCounts, nil)

		service := newComplianceService(mockRepo, mockSigner)
		anomalies, err := service.Anomalies(ctx, from, to)
		require.NoError(t, err)
		assert.Empty(t, anomalies)
	})

	t.Run("high failure rate is flagged medium, doubled threshold high", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mediumActor := uuid.Must(uuid.NewV7())
		highActor := uuid.Must(uuid.NewV7())

		mockRepo.On("ActorActivity", ctx, from, to).Return([]auditRepository.ActorActivity{
			// 15% failures: above the 10% threshold.
			{ActorID: mediumActor, Total: 100, Failures: 15, PHIReads: 10},
			// 30% failures: above twice the threshold.
			{ActorID: highActor, Total: 100, Failures: 30, PHIReads: 10},
		}, nil)
		mockRepo.On("CountsByAction", ctx, from, to).Return(noCounts, nil)

		service := newComplianceService(mockRepo, mockSigner)
		anomalies, err := service.Anomalies(ctx, from, to)
		require.NoError(t, err)
		require.Len(t, anomalies, 2)

		assert.Equal(t, AnomalyHighFailureRate, anomalies[0].Kind)
		assert.Equal(t, RiskMedium, anomalies[0].Risk)
		assert.Equal(t, mediumActor, *anomalies[0].ActorID)

		assert.Equal(t, RiskHigh, anomalies[1].Risk)
		assert.Equal(t, highActor, *anomalies[1].ActorID)
	})

	t.Run("failure rate needs a minimum sample size", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		// 50% failures but only 10 events: below MinEventsForRate.
		mockRepo.On("ActorActivity", ctx, from, to).Return([]auditRepository.ActorActivity{
			{ActorID: uuid.Must(uuid.NewV7()), Total: 10, Failures: 5, PHIReads: 0},
		}, nil)
		mockRepo.On("CountsByAction", ctx, from, to).Return(noCounts, nil)

		service := newComplianceService(mockRepo, mockSigner)
		anomalies, err := service.Anomalies(ctx, from, to)
		require.NoError(t, err)
		assert.Empty(t, anomalies)
	})

	t.Run("phi read burst is flagged", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		actor := uuid.Must(uuid.NewV7())
		mockRepo.On("ActorActivity", ctx, from, to).Return([]auditRepository.ActorActivity{
			{ActorID: actor, Total: 600, Failures: 0, PHIReads: 501},
		}, nil)
		mockRepo.On("CountsByAction", ctx, from, to).Return(noCounts, nil)

		service := newComplianceService(mockRepo, mockSigner)
		anomalies, err := service.Anomalies(ctx, from, to)
		require.NoError(t, err)
		require.Len(t, anomalies, 1)

		assert.Equal(t, AnomalyPHIReadBurst, anomalies[0].Kind)
		assert.Equal(t, int64(501), anomalies[0].Observed)
		assert.Equal(t, actor, *anomalies[0].ActorID)
	})

	t.Run("decryption failure spike is high risk with no actor", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("ActorActivity", ctx, from, to).Return([]auditRepository.ActorActivity{}, nil)
		mockRepo.On("CountsByAction", ctx, from, to).Return(map[auditDomain.Action]int64{
			auditDomain.ActionDecryptionFailure: 6,
		}, nil)

		service := newComplianceService(mockRepo, mockSigner)
		anomalies, err := service.Anomalies(ctx, from, to)
		require.NoError(t, err)
		require.Len(t, anomalies, 1)

		assert.Equal(t, AnomalyDecryptionFailureSpike, anomalies[0].Kind)
		assert.Equal(t, RiskHigh, anomalies[0].Risk)
		assert.Nil(t, anomalies[0].ActorID)
		assert.Equal(t, int64(6), anomalies[0].Observed)
	})

	t.Run("exactly at threshold is not a spike", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("ActorActivity", ctx, from, to).Return([]auditRepository.ActorActivity{}, nil)
		mockRepo.On("CountsByAction", ctx, from, to).Return(map[auditDomain.Action]int64{
			auditDomain.ActionDecryptionFailure: 5,
		}, nil)

		service := newComplianceService(mockRepo, mockSigner)
		anomalies, err := service.Anomalies(ctx, from, to)
		require.NoError(t, err)
		assert.Empty(t, anomalies)
	})
}

func TestComplianceService_VerifySignatures(t *testing.T) {
	ctx := context.Background()
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	t.Run("all signatures valid", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		events := []*auditDomain.AuditEvent{newTestEvent(), newTestEvent(), newTestEvent()}
		mockRepo.On("List", ctx, from, to, 0, 500).Return(events, nil)
		mockSigner.On("Verify", mock.AnythingOfType("*domain.AuditEvent")).Return(nil)

		service := newComplianceService(mockRepo, mockSigner)
		result, err := service.VerifySignatures(ctx, from, to)
		require.NoError(t, err)

		assert.Equal(t, int64(3), result.Checked)
		assert.Equal(t, int64(0), result.Invalid)
		assert.Empty(t, result.InvalidIDs)
	})

	t.Run("tampered event is reported by id", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		good := newTestEvent()
		tampered := newTestEvent()
		mockRepo.On("List", ctx, from, to, 0, 500).
			Return([]*auditDomain.AuditEvent{good, tampered}, nil)
		mockSigner.On("Verify", good).Return(nil)
		mockSigner.On("Verify", tampered).Return(auditDomain.ErrSignatureInvalid)

		service := newComplianceService(mockRepo, mockSigner)
		result, err := service.VerifySignatures(ctx, from, to)
		require.NoError(t, err)

		assert.Equal(t, int64(2), result.Checked)
		assert.Equal(t, int64(1), result.Invalid)
		assert.Equal(t, []uuid.UUID{tampered.ID}, result.InvalidIDs)
	})

	t.Run("pages through large windows", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		page1 := make([]*auditDomain.AuditEvent, 500)
		for i := range page1 {
			page1[i] = newTestEvent()
		}
		page2 := []*auditDomain.AuditEvent{newTestEvent()}

		mockRepo.On("List", ctx, from, to, 0, 500).Return(page1, nil)
		mockRepo.On("List", ctx, from, to, 500, 500).Return(page2, nil)
		mockSigner.On("Verify", mock.AnythingOfType("*domain.AuditEvent")).Return(nil)

		service := newComplianceService(mockRepo, mockSigner)
		result, err := service.VerifySignatures(ctx, from, to)
		require.NoError(t, err)

		assert.Equal(t, int64(501), result.Checked)
		mockRepo.AssertExpectations(t)
	})

	t.Run("empty window", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockSigner := &mockAuditSigner{}

		mockRepo.On("List", ctx, from, to, 0, 500).Return([]*auditDomain.AuditEvent{}, nil)

		service := newComplianceService(mockRepo, mockSigner)
		result, err := service.VerifySignatures(ctx, from, to)
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Checked)
	})
}
