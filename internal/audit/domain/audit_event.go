// Package domain defines the audit event model: an append-only, correlation-
// tracked record of every protected-data access and key-lifecycle event.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action identifies what the audited operation did.
type Action string

const (
	ActionPHIRead            Action = "PHI_READ"
	ActionPHIWrite           Action = "PHI_WRITE"
	ActionPHIDelete          Action = "PHI_DELETE"
	ActionDecryptionFailure  Action = "DECRYPTION_FAILURE"
	ActionRotationStarted    Action = "KEY_ROTATION_STARTED"
	ActionRotationCompleted  Action = "KEY_ROTATION_COMPLETED"
	ActionRotationFailed     Action = "KEY_ROTATION_FAILED"
	ActionSessionsInvalidate Action = "SESSION_BULK_INVALIDATION"
	ActionBackupCreated      Action = "BACKUP_CREATED"
	ActionBackupRestored     Action = "BACKUP_RESTORED"
)

// Valid reports whether the action is part of the audit taxonomy.
func (a Action) Valid() bool {
	switch a {
	case ActionPHIRead, ActionPHIWrite, ActionPHIDelete, ActionDecryptionFailure,
		ActionRotationStarted, ActionRotationCompleted, ActionRotationFailed,
		ActionSessionsInvalidate, ActionBackupCreated, ActionBackupRestored:
		return true
	}
	return false
}

// Severity classifies the compliance weight of an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// maxMetadataValueLen bounds metadata string values. PHI scalars routinely
// exceed this; identifiers, counts, and fingerprints never do, so the cap is
// a structural backstop against plaintext leaking into the trail.
const maxMetadataValueLen = 256

// forbiddenMetadataKeys are names that signal someone is about to store a
// decrypted value in the audit trail.
var forbiddenMetadataKeys = map[string]struct{}{
	"plaintext": {},
	"value":     {},
	"decrypted": {},
	"key":       {},
	"secret":    {},
}

// AuditEvent is one append-only audit trail entry. Metadata must never
// contain plaintext PHI or key material: only identifiers, counts, and
// fingerprints. Signature is an HMAC over the canonical event encoding.
type AuditEvent struct {
	ID            uuid.UUID
	Timestamp     time.Time
	CorrelationID uuid.UUID
	ActorID       *uuid.UUID
	Action        Action
	ResourceType  string
	ResourceID    string
	Success       bool
	Severity      Severity
	Metadata      map[string]any
	Signature     []byte
}

// NewAuditEvent builds an event with a fresh UUIDv7 id and UTC timestamp.
func NewAuditEvent(
	correlationID uuid.UUID,
	actorID *uuid.UUID,
	action Action,
	resourceType, resourceID string,
	success bool,
	severity Severity,
	metadata map[string]any,
) *AuditEvent {
	return &AuditEvent{
		ID:            uuid.Must(uuid.NewV7()),
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		ActorID:       actorID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Success:       success,
		Severity:      severity,
		Metadata:      metadata,
	}
}

// Validate enforces the metadata safety invariant and taxonomy membership.
// The recorder refuses events that fail validation rather than persist them.
func (e *AuditEvent) Validate() error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, e.Action)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, e.Severity)
	}
	for k, v := range e.Metadata {
		if _, forbidden := forbiddenMetadataKeys[k]; forbidden {
			return fmt.Errorf("%w: metadata key %q", ErrMetadataUnsafe, k)
		}
		if s, ok := v.(string); ok && len(s) > maxMetadataValueLen {
			return fmt.Errorf("%w: metadata key %q value too long", ErrMetadataUnsafe, k)
		}
	}
	return nil
}
