package service

import (
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
)

// AEADManagerService implements the AEADManager interface for creating AEAD cipher instances.
type AEADManagerService struct{}

// NewAEADManager creates a new AEADManagerService.
func NewAEADManager() *AEADManagerService {
	return &AEADManagerService{}
}

// CreateCipher creates an AEAD cipher instance for the envelope version.
// Returns ErrInvalidKeySize if key is not 32 bytes or ErrUnsupportedVersion
// if the version is unknown.
func (am *AEADManagerService) CreateCipher(
	key []byte,
	version cryptoDomain.EnvelopeVersion,
) (AEAD, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}

	switch version {
	case cryptoDomain.VersionAESGCM:
		return NewAESGCM(key)
	case cryptoDomain.VersionChaCha20:
		return NewChaCha20Poly1305(key)
	default:
		return nil, cryptoDomain.ErrUnsupportedVersion
	}
}
