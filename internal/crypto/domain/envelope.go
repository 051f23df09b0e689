package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// EncryptedValue is the only on-disk representation of a PHI scalar.
//
// The envelope is self-describing: the version selects the AEAD algorithm and
// parameter set, the IV is unique per encryption call, and the tag
// authenticates ciphertext, IV position, and version. Envelopes are immutable
// once created and replaced wholesale during key rotation, never patched.
type EncryptedValue struct {
	Version    EnvelopeVersion
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// envelopeSegments is the number of colon-delimited fields in the serialized form.
const envelopeSegments = 4

// AssociatedData returns the bytes bound to the ciphertext as AEAD associated
// data. Binding the version string means an envelope cannot be re-labeled as a
// different version without failing authentication.
func (e *EncryptedValue) AssociatedData() []byte {
	return []byte(fmt.Sprintf("v%d", e.Version))
}

// String serializes the envelope as a single delimited string suitable for a
// text column: "v<version>:<iv>:<ciphertext>:<tag>" with base64 segments.
func (e *EncryptedValue) String() string {
	enc := base64.StdEncoding
	return fmt.Sprintf(
		"v%d:%s:%s:%s",
		e.Version,
		enc.EncodeToString(e.IV),
		enc.EncodeToString(e.Ciphertext),
		enc.EncodeToString(e.Tag),
	)
}

// ParseEnvelope parses the serialized envelope form produced by String.
// Returns ErrMalformedEnvelope for any structural problem and
// ErrUnsupportedVersion for versions this build does not know.
func ParseEnvelope(s string) (*EncryptedValue, error) {
	parts := strings.Split(s, ":")
	if len(parts) != envelopeSegments {
		return nil, ErrMalformedEnvelope
	}

	if !strings.HasPrefix(parts[0], "v") {
		return nil, ErrMalformedEnvelope
	}
	version, err := strconv.Atoi(parts[0][1:])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	switch EnvelopeVersion(version) {
	case VersionAESGCM, VersionChaCha20:
	default:
		return nil, ErrUnsupportedVersion
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	tag, err := enc.DecodeString(parts[3])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	if len(iv) == 0 || len(tag) == 0 {
		return nil, ErrMalformedEnvelope
	}

	return &EncryptedValue{
		Version:    EnvelopeVersion(version),
		IV:         iv,
		Ciphertext: ciphertext,
		Tag:        tag,
	}, nil
}
