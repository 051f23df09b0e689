package service

import (
	"strings"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
)

// tagSize is the authentication tag length for both supported AEADs.
const tagSize = 16

// EnvelopeCipherService implements EnvelopeCipher on top of an AEADManager.
//
// Encryption always uses the current envelope version; decryption supports
// every version the envelope parser knows. The service holds no key material
// itself: keys arrive per call as an immutable snapshot, which keeps the
// service safe for concurrent use from request-handling goroutines.
type EnvelopeCipherService struct {
	aeadManager AEADManager
}

// NewEnvelopeCipher creates a new EnvelopeCipherService.
func NewEnvelopeCipher(aeadManager AEADManager) *EnvelopeCipherService {
	return &EnvelopeCipherService{aeadManager: aeadManager}
}

// Encrypt produces a fresh envelope for plaintext under key.
//
// Empty or blank plaintext maps to (nil, nil): encrypting "nothing" would
// leak presence/absence through a fixed-size ciphertext, so absent values
// stay NULL in storage. Two calls on identical plaintext always produce
// different envelopes because the IV is drawn fresh from crypto/rand.
func (s *EnvelopeCipherService) Encrypt(
	plaintext string,
	key *cryptoDomain.Key,
) (*cryptoDomain.EncryptedValue, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, nil
	}

	version := cryptoDomain.CurrentVersion
	aead, err := s.aeadManager.CreateCipher(key.Bytes(), version)
	if err != nil {
		return nil, err
	}

	envelope := &cryptoDomain.EncryptedValue{Version: version}
	sealed, nonce, err := aead.Encrypt([]byte(plaintext), envelope.AssociatedData())
	if err != nil {
		// Deliberately generic: the cause may reference internal state.
		return nil, cryptoDomain.ErrEncryptionFailed
	}

	// The AEAD appends the tag to the ciphertext; the envelope stores them
	// as separate segments.
	envelope.IV = nonce
	envelope.Ciphertext = sealed[:len(sealed)-tagSize]
	envelope.Tag = sealed[len(sealed)-tagSize:]

	return envelope, nil
}

// Decrypt recovers the plaintext from an envelope using the key material
// snapshot. The active key is tried first; on authentication failure the
// retired key is tried if present, so reads concurrent with an in-progress
// rotation never fail. Both failing returns ErrDecryptionFailed and never any
// partially-decrypted output.
func (s *EnvelopeCipherService) Decrypt(
	envelope *cryptoDomain.EncryptedValue,
	material *cryptoDomain.KeyMaterial,
) (string, error) {
	if envelope == nil {
		return "", nil
	}

	plaintext, err := s.DecryptWith(envelope, material.Active)
	if err == nil {
		return plaintext, nil
	}

	if material.Retired != nil {
		if plaintext, err := s.DecryptWith(envelope, material.Retired); err == nil {
			return plaintext, nil
		}
	}

	return "", cryptoDomain.ErrDecryptionFailed
}

// DecryptWith attempts authenticated decryption under exactly one key.
func (s *EnvelopeCipherService) DecryptWith(
	envelope *cryptoDomain.EncryptedValue,
	key *cryptoDomain.Key,
) (string, error) {
	if envelope == nil {
		return "", nil
	}

	aead, err := s.aeadManager.CreateCipher(key.Bytes(), envelope.Version)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(envelope.Ciphertext)+len(envelope.Tag))
	sealed = append(sealed, envelope.Ciphertext...)
	sealed = append(sealed, envelope.Tag...)

	plaintext, err := aead.Decrypt(sealed, envelope.IV, envelope.AssociatedData())
	if err != nil {
		return "", cryptoDomain.ErrDecryptionFailed
	}

	return string(plaintext), nil
}
