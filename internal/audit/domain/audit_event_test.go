package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditEvent(t *testing.T) {
	correlationID := uuid.Must(uuid.NewV7())
	actorID := uuid.Must(uuid.NewV7())

	event := NewAuditEvent(
		correlationID,
		&actorID,
		ActionPHIRead,
		"patients",
		"42",
		true,
		SeverityLow,
		map[string]any{"column": "ssn_encrypted"},
	)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, correlationID, event.CorrelationID)
	assert.Equal(t, &actorID, event.ActorID)
	assert.Equal(t, ActionPHIRead, event.Action)
	assert.True(t, event.Success)
	assert.Nil(t, event.Signature)
}

func TestNewAuditEvent_IDsAreSortable(t *testing.T) {
	// UUIDv7 ids are time-ordered, which keeps the audit index append-friendly.
	first := NewAuditEvent(uuid.Must(uuid.NewV7()), nil, ActionPHIRead, "patients", "1", true, SeverityLow, nil)
	second := NewAuditEvent(uuid.Must(uuid.NewV7()), nil, ActionPHIRead, "patients", "2", true, SeverityLow, nil)

	assert.Less(t, first.ID.String(), second.ID.String())
}

func TestAuditEvent_Validate(t *testing.T) {
	newEvent := func() *AuditEvent {
		return NewAuditEvent(
			uuid.Must(uuid.NewV7()),
			nil,
			ActionPHIWrite,
			"patients",
			"42",
			true,
			SeverityLow,
			nil,
		)
	}

	t.Run("valid event", func(t *testing.T) {
		assert.NoError(t, newEvent().Validate())
	})

	t.Run("unknown action", func(t *testing.T) {
		event := newEvent()
		event.Action = "SOMETHING_ELSE"
		assert.ErrorIs(t, event.Validate(), ErrInvalidEvent)
	})

	t.Run("unknown severity", func(t *testing.T) {
		event := newEvent()
		event.Severity = "urgent"
		assert.ErrorIs(t, event.Validate(), ErrInvalidEvent)
	})

	t.Run("forbidden metadata keys", func(t *testing.T) {
		for _, key := range []string{"plaintext", "value", "decrypted", "key", "secret"} {
			event := newEvent()
			event.Metadata = map[string]any{key: "anything"}
			assert.ErrorIs(t, event.Validate(), ErrMetadataUnsafe, "key %q", key)
		}
	})

	t.Run("oversized metadata value", func(t *testing.T) {
		event := newEvent()
		event.Metadata = map[string]any{"note": strings.Repeat("x", 257)}
		assert.ErrorIs(t, event.Validate(), ErrMetadataUnsafe)
	})

	t.Run("metadata at the size limit", func(t *testing.T) {
		event := newEvent()
		event.Metadata = map[string]any{"note": strings.Repeat("x", 256)}
		assert.NoError(t, event.Validate())
	})

	t.Run("non-string metadata values are not size-checked", func(t *testing.T) {
		event := newEvent()
		event.Metadata = map[string]any{"records_affected": int64(1250)}
		assert.NoError(t, event.Validate())
	})
}

func TestActionValid(t *testing.T) {
	for _, action := range []Action{
		ActionPHIRead, ActionPHIWrite, ActionPHIDelete, ActionDecryptionFailure,
		ActionRotationStarted, ActionRotationCompleted, ActionRotationFailed,
		ActionSessionsInvalidate, ActionBackupCreated, ActionBackupRestored,
	} {
		assert.True(t, action.Valid(), "action %q", action)
	}
	assert.False(t, Action("").Valid())
	assert.False(t, Action("PHI_EXPORT").Valid())
}

func TestContextCorrelationID(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		ctx := ContextWithCorrelationID(t.Context(), id)
		assert.Equal(t, id, CorrelationIDFromContext(ctx))
	})

	t.Run("mints an id when absent", func(t *testing.T) {
		id := CorrelationIDFromContext(t.Context())
		require.NotEqual(t, uuid.Nil, id)

		// Each call without a stored id mints a fresh one.
		other := CorrelationIDFromContext(t.Context())
		assert.NotEqual(t, id, other)
	})
}
