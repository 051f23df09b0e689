// Package service provides the tamper-evidence layer for the audit trail.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
)

// AuditSigner signs audit events so later mutation of any persisted field is
// detectable, and verifies stored signatures.
type AuditSigner interface {
	// Sign generates the HMAC-SHA256 signature for the audit event.
	Sign(event *auditDomain.AuditEvent) ([]byte, error)

	// Verify checks the event's stored signature. Returns nil if valid,
	// ErrSignatureInvalid if the event was tampered with.
	Verify(event *auditDomain.AuditEvent) error
}

type auditSigner struct {
	signingKey []byte
}

// NewAuditSigner creates an HMAC-based audit event signer. The signing key is
// derived from the supplied key via HKDF-SHA256, separating signing use from
// the key's encryption use.
// Info parameter: "phivault-audit-signing-v1" (versioned for future algorithm changes).
func NewAuditSigner(key *cryptoDomain.Key) (AuditSigner, error) {
	info := []byte("phivault-audit-signing-v1")
	r := hkdf.New(sha256.New, key.Bytes(), nil, info)

	signingKey := make([]byte, 32)
	if _, err := io.ReadFull(r, signingKey); err != nil {
		return nil, fmt.Errorf("failed to derive audit signing key: %w", err)
	}

	return &auditSigner{signingKey: signingKey}, nil
}

// canonicalize converts an audit event to its canonical byte representation.
// Uses length-prefixed encoding for variable-length fields to prevent ambiguity.
func (a *auditSigner) canonicalize(event *auditDomain.AuditEvent) ([]byte, error) {
	// Typical event is well under 1KB
	buf := make([]byte, 0, 1024)

	buf = append(buf, event.ID[:]...)
	buf = append(buf, event.CorrelationID[:]...)

	if event.ActorID != nil {
		buf = appendLengthPrefixed(buf, event.ActorID[:])
	} else {
		buf = appendLengthPrefixed(buf, nil)
	}

	buf = appendLengthPrefixed(buf, []byte(string(event.Action)))
	buf = appendLengthPrefixed(buf, []byte(event.ResourceType))
	buf = appendLengthPrefixed(buf, []byte(event.ResourceID))

	if event.Success {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendLengthPrefixed(buf, []byte(string(event.Severity)))

	if event.Metadata != nil {
		metadataBytes, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		buf = appendLengthPrefixed(buf, metadataBytes)
	} else {
		buf = appendLengthPrefixed(buf, nil)
	}

	timeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timeBytes, uint64(event.Timestamp.UnixNano()))
	buf = append(buf, timeBytes...)

	return buf, nil
}

// appendLengthPrefixed adds a 4-byte big-endian length prefix followed by data.
func appendLengthPrefixed(buf []byte, data []byte) []byte {
	dataLen := len(data)
	if dataLen > 0xFFFFFFFF {
		panic("data length exceeds uint32 max")
	}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(dataLen))
	buf = append(buf, length...)
	buf = append(buf, data...)
	return buf
}

// Sign generates the HMAC-SHA256 signature for the audit event.
func (a *auditSigner) Sign(event *auditDomain.AuditEvent) ([]byte, error) {
	canonical, err := a.canonicalize(event)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize event: %w", err)
	}

	mac := hmac.New(sha256.New, a.signingKey)
	mac.Write(canonical)
	return mac.Sum(nil), nil
}

// Verify checks if the audit event signature is valid.
func (a *auditSigner) Verify(event *auditDomain.AuditEvent) error {
	expected, err := a.Sign(event)
	if err != nil {
		return fmt.Errorf("failed to compute expected signature: %w", err)
	}

	if !hmac.Equal(event.Signature, expected) {
		return auditDomain.ErrSignatureInvalid
	}

	return nil
}
