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

// MySQLAuditLogRepository implements AuditEvent persistence for MySQL.
// UUIDs are stored as CHAR(36) strings.
type MySQLAuditLogRepository struct {
	db *sql.DB
}

// NewMySQLAuditLogRepository creates a new MySQL audit log repository.
func NewMySQLAuditLogRepository(db *sql.DB) *MySQLAuditLogRepository {
	return &MySQLAuditLogRepository{db: db}
}

// Create inserts a single audit event. Handles nil metadata as database NULL.
func (m *MySQLAuditLogRepository) Create(ctx context.Context, event *auditDomain.AuditEvent) error {
	querier := database.GetTx(ctx, m.db)

	metadataJSON, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	var actorID *string
	if event.ActorID != nil {
		s := event.ActorID.String()
		actorID = &s
	}

	query := `INSERT INTO audit_logs
			  (id, correlation_id, actor_id, action, resource_type, resource_id, success, severity, metadata, signature, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx, query,
		event.ID.String(),
		event.CorrelationID.String(),
		actorID,
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

// CreateBatch inserts a batch of events inside one transaction.
func (m *MySQLAuditLogRepository) CreateBatch(
	ctx context.Context,
	events []*auditDomain.AuditEvent,
) error {
	for _, event := range events {
		if err := m.Create(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// List retrieves audit events in a window ordered by ID ascending with
// offset/limit pagination.
func (m *MySQLAuditLogRepository) List(
	ctx context.Context,
	from, to time.Time,
	offset, limit int,
) ([]*auditDomain.AuditEvent, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, correlation_id, actor_id, action, resource_type, resource_id, success, severity, metadata, signature, created_at
			  FROM audit_logs
			  WHERE created_at >= ? AND created_at < ?
			  ORDER BY id
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, from, to, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit logs")
	}
	defer func() {
		_ = rows.Close()
	}()

	events := make([]*auditDomain.AuditEvent, 0)
	for rows.Next() {
		event, err := scanMySQLAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate audit logs")
	}

	return events, nil
}

func scanMySQLAuditEvent(rows *sql.Rows) (*auditDomain.AuditEvent, error) {
	var event auditDomain.AuditEvent
	var idStr, correlationStr, action, severity string
	var actorStr sql.NullString
	var metadataJSON []byte

	err := rows.Scan(
		&idStr,
		&correlationStr,
		&actorStr,
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

	event.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to parse audit log id")
	}
	event.CorrelationID, err = uuid.Parse(correlationStr)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to parse audit log correlation id")
	}
	if actorStr.Valid {
		actorID, err := uuid.Parse(actorStr.String)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to parse audit log actor id")
		}
		event.ActorID = &actorID
	}

	event.Action = auditDomain.Action(action)
	event.Severity = auditDomain.Severity(severity)

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal audit log metadata")
		}
	}

	return &event, nil
}

// CountsByAction returns event counts per action inside a window.
func (m *MySQLAuditLogRepository) CountsByAction(
	ctx context.Context,
	from, to time.Time,
) (map[auditDomain.Action]int64, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT action, COUNT(*)
			  FROM audit_logs
			  WHERE created_at >= ? AND created_at < ?
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
func (m *MySQLAuditLogRepository) SuccessFailureCounts(
	ctx context.Context,
	from, to time.Time,
) (success, failure int64, err error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT
			  COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
			  COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
			  FROM audit_logs
			  WHERE created_at >= ? AND created_at < ?`

	if err := querier.QueryRowContext(ctx, query, from, to).Scan(&success, &failure); err != nil {
		return 0, 0, apperrors.Wrap(err, "failed to count audit log outcomes")
	}
	return success, failure, nil
}

// ActorActivity aggregates per-actor totals, failures, and PHI reads inside a
// window. System events (NULL actor) are excluded.
func (m *MySQLAuditLogRepository) ActorActivity(
	ctx context.Context,
	from, to time.Time,
) ([]ActorActivity, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT actor_id,
			  COUNT(*),
			  SUM(CASE WHEN success THEN 0 ELSE 1 END),
			  SUM(CASE WHEN action = ? THEN 1 ELSE 0 END)
			  FROM audit_logs
			  WHERE actor_id IS NOT NULL AND created_at >= ? AND created_at < ?
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
		var actorStr string
		if err := rows.Scan(&actorStr, &activity.Total, &activity.Failures, &activity.PHIReads); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan actor activity")
		}
		activity.ActorID, err = uuid.Parse(actorStr)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to parse actor id")
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate actor activity")
	}

	return activities, nil
}

// DistinctPHIResourceTypes returns the resource types that produced at least
// one PHI access event inside a window.
func (m *MySQLAuditLogRepository) DistinctPHIResourceTypes(
	ctx context.Context,
	from, to time.Time,
) ([]string, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT DISTINCT resource_type
			  FROM audit_logs
			  WHERE action IN (?, ?) AND created_at >= ? AND created_at < ?`

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
