// Package usecase implements audit trail recording and the compliance
// reporting business logic.
package usecase

import (
	"context"
	"time"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	auditRepository "github.com/allisson/phivault/internal/audit/repository"
)

// AuditLogRepository defines audit trail persistence and query operations.
type AuditLogRepository interface {
	Create(ctx context.Context, event *auditDomain.AuditEvent) error
	CreateBatch(ctx context.Context, events []*auditDomain.AuditEvent) error
	List(ctx context.Context, from, to time.Time, offset, limit int) ([]*auditDomain.AuditEvent, error)
	CountsByAction(ctx context.Context, from, to time.Time) (map[auditDomain.Action]int64, error)
	SuccessFailureCounts(ctx context.Context, from, to time.Time) (success, failure int64, err error)
	ActorActivity(ctx context.Context, from, to time.Time) ([]auditRepository.ActorActivity, error)
	DistinctPHIResourceTypes(ctx context.Context, from, to time.Time) ([]string, error)
}

// Recorder accepts audit events for durable, tamper-evident persistence.
// Record must never block the caller's critical path for longer than a
// synchronous fallback write, and must never silently drop an event.
type Recorder interface {
	Record(ctx context.Context, event *auditDomain.AuditEvent) error
	Close(ctx context.Context) error
}

// ComplianceUseCase defines compliance report and anomaly surfacing operations.
type ComplianceUseCase interface {
	Report(ctx context.Context, from, to time.Time) (*ComplianceReport, error)
	Anomalies(ctx context.Context, from, to time.Time) ([]Anomaly, error)
	VerifySignatures(ctx context.Context, from, to time.Time) (*VerificationResult, error)
}
