package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// AESGCMCipher implements the AEAD interface using AES-256-GCM.
//
// AES-GCM provides authenticated encryption with associated data, combining
// the confidentiality of AES with the authenticity of GMAC. This
// implementation uses a 256-bit key, a 12-byte randomly generated nonce per
// encryption, and a 16-byte authentication tag appended to the ciphertext.
//
// The cipher instance is stateless and safe for concurrent use from multiple
// goroutines. Each encryption operation generates a unique nonce
// independently; with GCM, nonce reuse under the same key is catastrophic, so
// nonces are always drawn fresh from crypto/rand and never supplied by callers.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCM creates a new AES-256-GCM cipher instance. The key must be
// exactly 32 bytes (256 bits).
func NewAESGCM(key []byte) (*AESGCMCipher, error) {
	if len(key) != 32 {
		return nil, errors.New("key must be exactly 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMCipher{aead: aead}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with optional additional
// authenticated data. The AAD is authenticated but not encrypted, binding the
// ciphertext to its context (here: the envelope version). The returned
// ciphertext includes the 16-byte authentication tag appended to the end.
func (a *AESGCMCipher) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, a.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = a.aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using the provided nonce and AAD. The
// authentication tag is verified before any plaintext is returned; a mutation
// of ciphertext, nonce, tag, or AAD yields an error and no output.
func (a *AESGCMCipher) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
