package domain

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Environment variable names for operator-supplied secrets.
const (
	EnvPHIKey          = "PHI_ENCRYPTION_KEY"
	EnvPHIKeyRetired   = "PHI_ENCRYPTION_KEY_RETIRED"
	EnvSessionSecret   = "SESSION_SECRET"
	EnvAuditSigningKey = "AUDIT_SIGNING_KEY"
)

// fingerprintLabel is the HKDF info label used to derive key fingerprints.
// Versioned so the derivation can change without colliding with old logs.
const fingerprintLabel = "phivault-key-fingerprint-v1"

// fingerprintSize is the truncated fingerprint length in bytes (16 hex chars).
const fingerprintSize = 8

// UnwrapFunc decrypts KMS-wrapped key ciphertext into raw key bytes.
// It is nil when keys are supplied as plain hex in the environment.
type UnwrapFunc func(ctx context.Context, ciphertext []byte) ([]byte, error)

// Key holds one 256-bit managed key together with its log-safe fingerprint.
//
// The fingerprint is derived once at construction via HKDF-SHA256 with a fixed
// label and truncated to 8 bytes. It identifies which key produced a given
// ciphertext in logs and ledger rows without exposing any key material; the
// derivation is one-way, so the fingerprint cannot be used to reconstruct the
// key.
type Key struct {
	bytes       []byte
	fingerprint string
}

// NewKey wraps raw key bytes. The key must be exactly 32 bytes; the input
// slice is copied so callers may zero their own copy.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(raw), KeySize)
	}

	b := make([]byte, KeySize)
	copy(b, raw)

	fp, err := deriveFingerprint(b)
	if err != nil {
		Zero(b)
		return nil, err
	}

	return &Key{bytes: b, fingerprint: fp}, nil
}

// Bytes returns the raw key material. Callers must not retain or mutate it.
func (k *Key) Bytes() []byte {
	return k.bytes
}

// Fingerprint returns the short, non-reversible key identifier for logs.
func (k *Key) Fingerprint() string {
	return k.fingerprint
}

// Equal reports whether two keys hold identical material, in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.bytes, other.bytes) == 1
}

// Close zeroes the key material.
func (k *Key) Close() {
	if k == nil {
		return
	}
	Zero(k.bytes)
}

// deriveFingerprint computes the HKDF-SHA256 fingerprint for a key.
func deriveFingerprint(key []byte) (string, error) {
	r := hkdf.New(sha256.New, key, nil, []byte(fingerprintLabel))
	out := make([]byte, fingerprintSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", fmt.Errorf("failed to derive fingerprint: %w", err)
	}
	return hex.EncodeToString(out), nil
}

// KeyMaterial is the immutable snapshot of PHI encryption keys used by the
// envelope cipher. Active is the key for all new encryptions; Retired, when
// present, is the immediately-previous key accepted for decryption during a
// rotation's grace window.
type KeyMaterial struct {
	Active  *Key
	Retired *Key
}

// Close zeroes both keys.
func (m *KeyMaterial) Close() {
	if m == nil {
		return
	}
	m.Active.Close()
	m.Retired.Close()
}

// ParseKeyHex decodes a 64-character hex string into a Key.
func ParseKeyHex(s string) (*Key, error) {
	s = strings.TrimSpace(s)
	if len(s) != KeySize*2 {
		return nil, fmt.Errorf("%w: want %d hex characters", ErrInvalidKeyFormat, KeySize*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	defer Zero(raw)

	return NewKey(raw)
}

// LoadKeyMaterialFromEnv loads the PHI encryption key material from the
// environment. PHI_ENCRYPTION_KEY is required; PHI_ENCRYPTION_KEY_RETIRED is
// optional and only set for the duration of a rotation's grace window.
//
// When unwrap is non-nil the environment values are base64 KMS ciphertexts
// that are unwrapped into raw key bytes; otherwise they are 64-character hex
// strings. Format failures are fatal: the process must refuse to serve PHI
// operations with malformed key material.
func LoadKeyMaterialFromEnv(ctx context.Context, unwrap UnwrapFunc) (*KeyMaterial, error) {
	active, err := loadKeyFromEnv(ctx, EnvPHIKey, unwrap)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotSet, EnvPHIKey)
	}

	retired, err := loadKeyFromEnv(ctx, EnvPHIKeyRetired, unwrap)
	if err != nil {
		active.Close()
		return nil, err
	}

	return &KeyMaterial{Active: active, Retired: retired}, nil
}

// LoadSessionSecretFromEnv loads the session-signing secret from SESSION_SECRET.
func LoadSessionSecretFromEnv(ctx context.Context, unwrap UnwrapFunc) (*Key, error) {
	secret, err := loadKeyFromEnv(ctx, EnvSessionSecret, unwrap)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotSet, EnvSessionSecret)
	}
	return secret, nil
}

// LoadAuditSigningKeyFromEnv loads the audit trail signing key from
// AUDIT_SIGNING_KEY. The signing key is independent of the PHI key so a PHI
// key rotation does not invalidate historical audit signatures.
func LoadAuditSigningKeyFromEnv(ctx context.Context, unwrap UnwrapFunc) (*Key, error) {
	key, err := loadKeyFromEnv(ctx, EnvAuditSigningKey, unwrap)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotSet, EnvAuditSigningKey)
	}
	return key, nil
}

// loadKeyFromEnv reads one key variable. Returns (nil, nil) if unset.
func loadKeyFromEnv(ctx context.Context, name string, unwrap UnwrapFunc) (*Key, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return nil, nil
	}

	if unwrap == nil {
		key, err := ParseKeyHex(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return key, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidKeyFormat)
	}
	raw, err := unwrap(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap %s: %w", name, err)
	}
	defer Zero(raw)

	key, err := NewKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return key, nil
}
