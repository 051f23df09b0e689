package domain

import (
	"github.com/allisson/phivault/internal/errors"
)

var (
	// ErrInvalidEvent indicates an event outside the audit taxonomy.
	ErrInvalidEvent = errors.Wrap(errors.ErrInvalidInput, "invalid audit event")

	// ErrMetadataUnsafe indicates metadata that may carry plaintext PHI or
	// key material. Such events are refused, never persisted.
	ErrMetadataUnsafe = errors.Wrap(errors.ErrInvalidInput, "unsafe audit metadata")

	// ErrSignatureInvalid indicates an audit event whose stored signature
	// does not match its content: the row was tampered with.
	ErrSignatureInvalid = errors.Wrap(errors.ErrConflict, "audit signature invalid")

	// ErrRecorderClosed indicates a Record call after shutdown began.
	ErrRecorderClosed = errors.New("audit recorder closed")

	// ErrBacklogFull indicates both the write path and the bounded retry
	// queue are exhausted. The event could not be preserved.
	ErrBacklogFull = errors.Wrap(errors.ErrUnavailable, "audit backlog full")
)
