package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
)

// RunGenerateKey generates a cryptographically secure 32-byte key suitable for
// PHI_ENCRYPTION_KEY, SESSION_SECRET or AUDIT_SIGNING_KEY. Key material is
// zeroed from memory after encoding.
//
// Without KMS parameters the key is printed as 64 hex characters. With
// kmsKeyURI set, the key is wrapped by the KMS keeper and printed as base64
// ciphertext; the process then never sees the raw key again after startup
// unwrapping.
func RunGenerateKey(
	ctx context.Context,
	kmsService cryptoService.KMSService,
	writer io.Writer,
	envName, kmsKeyURI string,
) error {
	raw := make([]byte, cryptoDomain.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	defer cryptoDomain.Zero(raw)

	key, err := cryptoDomain.NewKey(raw)
	if err != nil {
		return fmt.Errorf("failed to wrap key: %w", err)
	}
	defer key.Close()

	if kmsKeyURI == "" {
		_, _ = fmt.Fprintln(writer, "# Plain hex mode. For production, prefer --kms-key-uri so the")
		_, _ = fmt.Fprintln(writer, "# environment only ever holds KMS-wrapped ciphertext.")
		_, _ = fmt.Fprintln(writer)
		_, _ = fmt.Fprintf(writer, "%s=\"%s\"\n", envName, hex.EncodeToString(key.Bytes()))
		_, _ = fmt.Fprintf(writer, "# fingerprint: %s\n", key.Fingerprint())
		return nil
	}

	keeper, err := kmsService.OpenKeeper(ctx, kmsKeyURI)
	if err != nil {
		return fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	defer func() {
		if closeErr := keeper.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(writer, "Warning: failed to close KMS keeper: %v\n", closeErr)
		}
	}()

	ciphertext, err := keeper.Encrypt(ctx, key.Bytes())
	if err != nil {
		return fmt.Errorf("failed to wrap key with KMS: %w", err)
	}

	_, _ = fmt.Fprintln(writer, "# KMS mode. Copy these environment variables to your secrets manager.")
	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintf(writer, "KMS_KEY_URI=\"%s\"\n", kmsKeyURI)
	_, _ = fmt.Fprintf(writer, "%s=\"%s\"\n", envName, base64.StdEncoding.EncodeToString(ciphertext))
	_, _ = fmt.Fprintf(writer, "# fingerprint: %s\n", key.Fingerprint())
	return nil
}
