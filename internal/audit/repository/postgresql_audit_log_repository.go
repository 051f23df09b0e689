// Package repository implements audit trail persistence and the compliance
// query surface for PostgreSQL and MySQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	"github.com/allisson/phivault/internal/database"
	apperrors "github.com/allisson/phivault/internal/errors"
)

// ActorActivity aggregates one actor's audited operations inside a window.
type ActorActivity struct {
	ActorID  uuid.UUID
	Total    int64
	Failures int64
	PHIReads int64
}

// PostgreSQLAuditLogRepository implements AuditEvent persistence for PostgreSQL.
// Uses native UUID types with transaction support via database.GetTx().
type PostgreSQLAuditLogRepository struct {
	db *sql.DB
}

// NewPostgreSQLAuditLogRepository creates a new PostgreSQL audit log repository.
func NewPostgreSQLAuditLogRepository(db *sql.DB) *PostgreSQLAuditLogRepository {
	return &PostgreSQLAuditLogRepository{db: db}
}

// Create inserts a single audit event. Handles nil metadata as database NULL.
func (p *PostgreSQLAuditLogRepository) Create(ctx context.Context, event *auditDomain.AuditEvent) error {
	querier := database.GetTx(ctx, p.db)

	metadataJSON, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO audit_logs
			  (id, correlation_id, actor_id, action, resource_type, resource_id, success, severity, metadata, signature, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = querier.ExecContext(
		ctx, query,
		event.ID,
		event.CorrelationID,
		event.ActorID,
		string(event.Action),
		event.ResourceType,
		event.ResourceID,
		event.Success,
		string(event.Severity),
		metadataJSON,
		event.Signature,
		event.Timestamp,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create audit log")
	}

	return nil
}

// CreateBatch inserts a batch of events inside one transaction. The recorder
// flushes its channel through this to keep insert overhead bounded.
func (p *PostgreSQLAuditLogRepository) CreateBatch(
	ctx context.Context,
	events []*auditDomain.AuditEvent,
) error {
	for _, event := range events {
		if err := p.Create(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// List retrieves audit events in a window ordered by ID ascending with
// offset/limit pagination. Used by signature verification sweeps.
func (p *PostgreSQLAuditLogRepository) List(
	ctx context.Context,
	from, to time.Time,
	offset, limit int,
) ([]*auditDomain.AuditEvent, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, correlation_id, actor_id, action, resource_type, resource_id, success, severity, metadata, signature, created_at
			  FROM audit_logs
			  WHERE created_at >= $1 AND created_at < $2
			  ORDER BY id
			  LIMIT $3 OFFSET $4`

	rows, err := querier.QueryContext(ctx, query, from, to, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit logs")
	}
	defer func() {
		_ = rows.Close()
	}()

	events := make([]*auditDomain.AuditEvent, 0)
	for rows.Next() {
		var event auditDomain.AuditEvent
		var action, severity string
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.CorrelationID,
			&event.ActorID,
			&action,
			&event.ResourceType,
			&event.ResourceID,
			&event.Success,
			&severity,
			&metadataJSON,
			&event.Signature,
			&event.Timestamp,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan audit log")
		}

		event.Action = auditDomain.Action(action)
		event.Severity = auditDomain.Severity(severity)

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, apperrors.Wrap(err, "failed to unmarshal audit log metadata")
			}
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate audit logs")
	}

	return events, nil
}

// CountsByAction returns event counts per action inside a window.
func (p *PostgreSQLAuditLogRepository) CountsByAction(
	ctx context.Context,
	from, to time.Time,
) (map[auditDomain.Action]int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT action, COUNT(*)
			  FROM audit_logs
			  WHERE created_at >= $1 AND created_at < $2
			  GROUP BY action`

	rows, err := querier.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count audit logs by action")
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[auditDomain.Action]int64)
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan action count")
		}
		counts[auditDomain.Action(action)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate action counts")
	}

	return counts, nil
}

// SuccessFailureCounts returns the success and failure totals inside a window.
func (p *PostgreSQLAuditLogRepository) SuccessFailureCounts(
	ctx context.Context,
	from, to time.Time,
) (success, failure int64, err error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT
			  COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			  COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
			  FROM audit_logs
			  WHERE created_at >= $1 AND created_at < $2`

	if err := querier.QueryRowContext(ctx, query, from, to).Scan(&success, &failure); err != nil {
		return 0, 0, apperrors.Wrap(err, "failed to count audit log outcomes")
	}
	return success, failure, nil
}

// ActorActivity aggregates per-actor totals, failures, and PHI reads inside a
// window. System events (NULL actor) are excluded.
func (p *PostgreSQLAuditLogRepository) ActorActivity(
	ctx context.Context,
	from, to time.Time,
) ([]ActorActivity, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT actor_id,
			  COUNT(*),
			  SUM(CASE WHEN success THEN 0 ELSE 1 END),
			  SUM(CASE WHEN action = $1 THEN 1 ELSE 0 END)
			  FROM audit_logs
			  WHERE actor_id IS NOT NULL AND created_at >= $2 AND created_at < $3
			  GROUP BY actor_id`

	rows, err := querier.QueryContext(ctx, query, string(auditDomain.ActionPHIRead), from, to)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to aggregate actor activity")
	}
	defer func() {
		_ = rows.Close()
	}()

	activities := make([]ActorActivity, 0)
	for rows.Next() {
		var activity ActorActivity
		if err := rows.Scan(&activity.ActorID, &activity.Total, &activity.Failures, &activity.PHIReads); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan actor activity")
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate actor activity")
	}

	return activities, nil
}

// DistinctPHIResourceTypes returns the resource types that produced at least
// one PHI access event inside a window. Drives the coverage ratio.
func (p *PostgreSQLAuditLogRepository) DistinctPHIResourceTypes(
	ctx context.Context,
	from, to time.Time,
) ([]string, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT DISTINCT resource_type
			  FROM audit_logs
			  WHERE action IN ($1, $2) AND created_at >= $3 AND created_at < $4`

	rows, err := querier.QueryContext(
		ctx, query,
		string(auditDomain.ActionPHIRead), string(auditDomain.ActionPHIWrite), from, to,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list PHI resource types")
	}
	defer func() {
		_ = rows.Close()
	}()

	types := make([]string, 0)
	for rows.Next() {
		var rt string
		if err := rows.Scan(&rt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan resource type")
		}
		types = append(types, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate resource types")
	}

	return types, nil
}

// marshalMetadata serializes metadata, mapping nil to database NULL.
func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal audit log metadata")
	}
	return out, nil
}
