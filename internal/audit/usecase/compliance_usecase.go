package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	auditService "github.com/allisson/phivault/internal/audit/service"
	"github.com/allisson/phivault/internal/registry"
)

// ComplianceReport summarizes audit trail activity inside a window.
type ComplianceReport struct {
	From               time.Time                    `json:"from"`
	To                 time.Time                    `json:"to"`
	GeneratedAt        time.Time                    `json:"generated_at"`
	TotalEvents        int64                        `json:"total_events"`
	CountsByAction     map[auditDomain.Action]int64 `json:"counts_by_action"`
	SuccessCount       int64                        `json:"success_count"`
	FailureCount       int64                        `json:"failure_count"`
	DecryptionFailures int64                        `json:"decryption_failures"`
	RotationsCompleted int64                        `json:"rotations_completed"`
	RotationsFailed    int64                        `json:"rotations_failed"`
	CoveredTables      []string                     `json:"covered_tables"`
	PHICoverageRatio   float64                      `json:"phi_coverage_ratio"`
}

// Risk classifies how urgently an anomaly needs review.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// AnomalyKind identifies the pattern an anomaly matched.
type AnomalyKind string

const (
	AnomalyHighFailureRate        AnomalyKind = "high_failure_rate"
	AnomalyPHIReadBurst           AnomalyKind = "phi_read_burst"
	AnomalyDecryptionFailureSpike AnomalyKind = "decryption_failure_spike"
)

// Anomaly is one suspicious pattern surfaced from the audit trail.
type Anomaly struct {
	Kind        AnomalyKind `json:"kind"`
	Risk        Risk        `json:"risk"`
	ActorID     *uuid.UUID  `json:"actor_id,omitempty"`
	Observed    int64       `json:"observed"`
	Description string      `json:"description"`
}

// VerificationResult summarizes a signature verification sweep.
type VerificationResult struct {
	Checked    int64       `json:"checked"`
	Invalid    int64       `json:"invalid"`
	InvalidIDs []uuid.UUID `json:"invalid_ids,omitempty"`
}

// ComplianceConfig holds anomaly detection thresholds.
type ComplianceConfig struct {
	// FailureRateThreshold flags actors whose failure share exceeds it,
	// once they have at least MinEventsForRate events in the window.
	FailureRateThreshold float64
	MinEventsForRate     int64
	// PHIReadBurstThreshold flags actors reading more PHI records than
	// this inside the window.
	PHIReadBurstThreshold int64
	// DecryptionFailureThreshold flags the window itself when total
	// decryption failures exceed it. Any failure spike here can mean a
	// wrong key or tampered ciphertext.
	DecryptionFailureThreshold int64
	// VerifyPageSize bounds how many events a verification sweep loads
	// per query.
	VerifyPageSize int
}

// ComplianceService builds compliance reports and surfaces anomalies from the
// audit trail. Read only: it never writes audit events.
type ComplianceService struct {
	config   ComplianceConfig
	repo     AuditLogRepository
	signer   auditService.AuditSigner
	registry *registry.Registry
	logger   *slog.Logger
}

// NewComplianceService creates a new ComplianceService.
func NewComplianceService(
	config ComplianceConfig,
	repo AuditLogRepository,
	signer auditService.AuditSigner,
	reg *registry.Registry,
	logger *slog.Logger,
) *ComplianceService {
	if config.FailureRateThreshold <= 0 {
		config.FailureRateThreshold = 0.10
	}
	if config.MinEventsForRate <= 0 {
		config.MinEventsForRate = 20
	}
	if config.PHIReadBurstThreshold <= 0 {
		config.PHIReadBurstThreshold = 500
	}
	if config.DecryptionFailureThreshold <= 0 {
		config.DecryptionFailureThreshold = 5
	}
	if config.VerifyPageSize <= 0 {
		config.VerifyPageSize = 500
	}

	return &ComplianceService{
		config:   config,
		repo:     repo,
		signer:   signer,
		registry: reg,
		logger:   logger,
	}
}

// Report aggregates the audit trail for a window: totals per action, success
// and failure counts, and the share of registered PHI tables that saw at
// least one access event.
func (c *ComplianceService) Report(ctx context.Context, from, to time.Time) (*ComplianceReport, error) {
	counts, err := c.repo.CountsByAction(ctx, from, to)
	if err != nil {
		return nil, err
	}

	success, failure, err := c.repo.SuccessFailureCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}

	covered, err := c.repo.DistinctPHIResourceTypes(ctx, from, to)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]struct{})
	for _, entry := range c.registry.All() {
		registered[entry.Table] = struct{}{}
	}

	coverage := 0.0
	if len(registered) > 0 {
		hits := 0
		for _, table := range covered {
			if _, ok := registered[table]; ok {
				hits++
			}
		}
		coverage = float64(hits) / float64(len(registered))
	}

	return &ComplianceReport{
		From:               from,
		To:                 to,
		GeneratedAt:        time.Now().UTC(),
		TotalEvents:        success + failure,
		CountsByAction:     counts,
		SuccessCount:       success,
		FailureCount:       failure,
		DecryptionFailures: counts[auditDomain.ActionDecryptionFailure],
		RotationsCompleted: counts[auditDomain.ActionRotationCompleted],
		RotationsFailed:    counts[auditDomain.ActionRotationFailed],
		CoveredTables:      covered,
		PHICoverageRatio:   coverage,
	}, nil
}

// Anomalies scans the window for suspicious patterns: actors with an outsized
// failure share, actors reading PHI in bursts, and decryption failure spikes.
func (c *ComplianceService) Anomalies(ctx context.Context, from, to time.Time) ([]Anomaly, error) {
	activities, err := c.repo.ActorActivity(ctx, from, to)
	if err != nil {
		return nil, err
	}

	anomalies := make([]Anomaly, 0)

	for _, activity := range activities {
		actorID := activity.ActorID

		if activity.Total >= c.config.MinEventsForRate {
			rate := float64(activity.Failures) / float64(activity.Total)
			if rate > c.config.FailureRateThreshold {
				risk := RiskMedium
				if rate > 2*c.config.FailureRateThreshold {
					risk = RiskHigh
				}
				anomalies = append(anomalies, Anomaly{
					Kind:     AnomalyHighFailureRate,
					Risk:     risk,
					ActorID:  &actorID,
					Observed: activity.Failures,
					Description: fmt.Sprintf(
						"%.0f%% of %d operations failed", rate*100, activity.Total,
					),
				})
			}
		}

		if activity.PHIReads > c.config.PHIReadBurstThreshold {
			anomalies = append(anomalies, Anomaly{
				Kind:     AnomalyPHIReadBurst,
				Risk:     RiskMedium,
				ActorID:  &actorID,
				Observed: activity.PHIReads,
				Description: fmt.Sprintf(
					"%d PHI reads in window, threshold %d",
					activity.PHIReads, c.config.PHIReadBurstThreshold,
				),
			})
		}
	}

	counts, err := c.repo.CountsByAction(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if failures := counts[auditDomain.ActionDecryptionFailure]; failures > c.config.DecryptionFailureThreshold {
		anomalies = append(anomalies, Anomaly{
			Kind:     AnomalyDecryptionFailureSpike,
			Risk:     RiskHigh,
			Observed: failures,
			Description: fmt.Sprintf(
				"%d decryption failures in window, threshold %d",
				failures, c.config.DecryptionFailureThreshold,
			),
		})
	}

	return anomalies, nil
}

// VerifySignatures recomputes the HMAC for every event in the window and
// reports mismatches. A mismatch means the stored row was altered after it
// was written.
func (c *ComplianceService) VerifySignatures(ctx context.Context, from, to time.Time) (*VerificationResult, error) {
	result := &VerificationResult{}

	offset := 0
	for {
		events, err := c.repo.List(ctx, from, to, offset, c.config.VerifyPageSize)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			result.Checked++
			if err := c.signer.Verify(event); err != nil {
				result.Invalid++
				result.InvalidIDs = append(result.InvalidIDs, event.ID)
				c.logger.Error("audit event signature mismatch",
					slog.String("event_id", event.ID.String()),
					slog.String("action", string(event.Action)),
				)
			}
		}

		if len(events) < c.config.VerifyPageSize {
			break
		}
		offset += c.config.VerifyPageSize
	}

	return result, nil
}
