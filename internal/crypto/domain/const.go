package domain

// EnvelopeVersion selects the algorithm/parameter set used to produce an
// encrypted envelope. The version is bound to the ciphertext as associated
// data, so an attacker cannot downgrade an envelope to a different algorithm
// without invalidating the authentication tag.
type EnvelopeVersion int

const (
	// VersionAESGCM is envelope version 1: AES-256-GCM with a random
	// 12-byte IV and a 16-byte authentication tag.
	VersionAESGCM EnvelopeVersion = 1

	// VersionChaCha20 is envelope version 2: ChaCha20-Poly1305 with a
	// random 12-byte nonce and a 16-byte authentication tag. Intended for
	// hosts without AES-NI; decryption of both versions is always supported.
	VersionChaCha20 EnvelopeVersion = 2

	// CurrentVersion is the version used for all new encryptions.
	CurrentVersion = VersionAESGCM
)

// KeyType identifies which managed secret a rotation or audit entry refers to.
type KeyType string

const (
	// KeyTypePHIEncryption is the 256-bit key protecting PHI columns at rest.
	KeyTypePHIEncryption KeyType = "phi_encryption_key"

	// KeyTypeSessionSecret is the 256-bit secret signing session tokens.
	KeyTypeSessionSecret KeyType = "session_secret"
)

// Valid reports whether the key type is one of the managed secrets.
func (k KeyType) Valid() bool {
	return k == KeyTypePHIEncryption || k == KeyTypeSessionSecret
}

// KeySize is the required size in bytes for every managed key and secret.
const KeySize = 32
