package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedValue_String(t *testing.T) {
	t.Run("serializes all segments", func(t *testing.T) {
		envelope := &EncryptedValue{
			Version:    VersionAESGCM,
			IV:         []byte("123456789012"),
			Ciphertext: []byte("ciphertext"),
			Tag:        []byte("1234567890123456"),
		}

		s := envelope.String()
		assert.True(t, strings.HasPrefix(s, "v1:"))
		assert.Equal(t, 4, len(strings.Split(s, ":")))
	})

	t.Run("round trips through ParseEnvelope", func(t *testing.T) {
		envelope := &EncryptedValue{
			Version:    VersionChaCha20,
			IV:         []byte("123456789012"),
			Ciphertext: []byte("some ciphertext bytes"),
			Tag:        []byte("1234567890123456"),
		}

		parsed, err := ParseEnvelope(envelope.String())
		require.NoError(t, err)
		assert.Equal(t, envelope.Version, parsed.Version)
		assert.Equal(t, envelope.IV, parsed.IV)
		assert.Equal(t, envelope.Ciphertext, parsed.Ciphertext)
		assert.Equal(t, envelope.Tag, parsed.Tag)
	})
}

func TestEncryptedValue_AssociatedData(t *testing.T) {
	envelope := &EncryptedValue{Version: VersionAESGCM}
	assert.Equal(t, []byte("v1"), envelope.AssociatedData())

	envelope.Version = VersionChaCha20
	assert.Equal(t, []byte("v2"), envelope.AssociatedData())
}

func TestParseEnvelope(t *testing.T) {
	t.Run("wrong segment count", func(t *testing.T) {
		_, err := ParseEnvelope("v1:abc:def")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)

		_, err = ParseEnvelope("v1:a:b:c:d")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("missing version prefix", func(t *testing.T) {
		_, err := ParseEnvelope("1:YWJj:YWJj:YWJj")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("non-numeric version", func(t *testing.T) {
		_, err := ParseEnvelope("vx:YWJj:YWJj:YWJj")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := ParseEnvelope("v99:YWJj:YWJj:YWJj")
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("invalid base64 segment", func(t *testing.T) {
		_, err := ParseEnvelope("v1:!!!:YWJj:YWJj")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("empty iv or tag", func(t *testing.T) {
		_, err := ParseEnvelope("v1::YWJj:YWJj")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)

		_, err = ParseEnvelope("v1:YWJj:YWJj:")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("empty string", func(t *testing.T) {
		_, err := ParseEnvelope("")
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})
}
