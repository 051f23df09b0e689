// Package service provides the cryptographic services behind the PHI envelope
// cipher: AEAD implementations (AES-256-GCM, ChaCha20-Poly1305), envelope
// encryption with dual-key decryption, and KMS key unwrapping.
package service

import (
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
)

// AEAD defines the interface for Authenticated Encryption with Associated Data.
type AEAD interface {
	// Encrypt encrypts plaintext with optional AAD and returns ciphertext and nonce.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
type AEADManager interface {
	// CreateCipher creates an AEAD cipher instance for the envelope version.
	CreateCipher(key []byte, version cryptoDomain.EnvelopeVersion) (AEAD, error)
}

// EnvelopeCipher encrypts and decrypts single PHI values into versioned,
// self-describing envelopes.
type EnvelopeCipher interface {
	// Encrypt produces a fresh envelope for plaintext under key. Empty or
	// blank plaintext maps to (nil, nil): the system never encrypts nothing.
	Encrypt(plaintext string, key *cryptoDomain.Key) (*cryptoDomain.EncryptedValue, error)

	// Decrypt recovers the plaintext from an envelope, trying the active key
	// first and falling back to the retired key during a rotation grace
	// window. A nil envelope returns ("", nil). Both keys failing returns
	// ErrDecryptionFailed; unauthenticated plaintext is never returned.
	Decrypt(envelope *cryptoDomain.EncryptedValue, material *cryptoDomain.KeyMaterial) (string, error)

	// DecryptWith attempts decryption under exactly one key. Used by the
	// rotation orchestrator for trial decryption against the new key.
	DecryptWith(envelope *cryptoDomain.EncryptedValue, key *cryptoDomain.Key) (string, error)
}
