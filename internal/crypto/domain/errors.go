package domain

import (
	"github.com/allisson/phivault/internal/errors"
)

// Cryptographic operation error definitions.
//
// These domain-specific errors wrap standard errors from internal/errors.
// Error messages are intentionally generic: they must never carry plaintext,
// key bytes, or anything derived from either.
var (
	// ErrUnsupportedVersion indicates the envelope version is not recognized.
	ErrUnsupportedVersion = errors.Wrap(errors.ErrInvalidInput, "unsupported envelope version")

	// ErrInvalidKeySize indicates the key material is not exactly 32 bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// ErrInvalidKeyFormat indicates the environment-supplied key is not a
	// 64-character hex string (or valid KMS ciphertext in KMS mode).
	ErrInvalidKeyFormat = errors.Wrap(errors.ErrInvalidInput, "invalid key format")

	// ErrMalformedEnvelope indicates a stored ciphertext string could not be
	// parsed into version, IV, ciphertext, and tag segments.
	ErrMalformedEnvelope = errors.Wrap(errors.ErrInvalidInput, "malformed envelope")

	// ErrDecryptionFailed indicates authenticated decryption failed under
	// every known key. The specific cause (wrong key, tampered ciphertext,
	// tampered IV or tag) is deliberately not disclosed.
	ErrDecryptionFailed = errors.Wrap(errors.ErrInvalidInput, "decryption failed")

	// ErrEncryptionFailed indicates an encryption operation failed.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrKeyNotSet indicates a required key environment variable is missing.
	ErrKeyNotSet = errors.Wrap(errors.ErrInvalidInput, "key not set")
)
