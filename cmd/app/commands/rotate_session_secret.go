package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	validation "github.com/jellydator/validation"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
	appValidation "github.com/allisson/phivault/internal/validation"
)

// RunRotateSessionSecret swaps the session signing secret and invalidates
// every active session in one run. The new secret is read from the
// NEW_SESSION_SECRET environment variable as 64 hex characters.
func RunRotateSessionSecret(
	ctx context.Context,
	rotation rotationUseCase.UseCase,
	logger *slog.Logger,
	writer io.Writer,
	newSecretHex, reason, actorID string,
) error {
	err := appValidation.WrapValidationError(
		validation.Validate(newSecretHex, validation.Required, appValidation.HexKey),
	)
	if err != nil {
		return fmt.Errorf("invalid new secret: %w", err)
	}

	newSecret, err := cryptoDomain.ParseKeyHex(newSecretHex)
	if err != nil {
		return fmt.Errorf("invalid new secret: %w", err)
	}
	defer newSecret.Close()

	actor, err := parseActorID(actorID)
	if err != nil {
		return err
	}

	input := &rotationUseCase.RotateSessionSecretInput{
		NewSecret: newSecret,
		Reason:    rotationDomain.Reason(reason),
		ActorID:   actor,
	}

	logger.Info("starting session secret rotation",
		slog.String("reason", reason),
		slog.String("new_fingerprint", newSecret.Fingerprint()),
	)

	summary, err := rotation.RotateSessionSecret(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to rotate session secret: %w", err)
	}

	_, _ = fmt.Fprintf(writer, "Session secret rotation completed in %s\n", summary.Duration.Round(10*time.Millisecond))
	_, _ = fmt.Fprintf(writer, "  Rotation ID:          %s\n", summary.RotationID)
	_, _ = fmt.Fprintf(writer, "  Old fingerprint:      %s\n", summary.OldFingerprint)
	_, _ = fmt.Fprintf(writer, "  New fingerprint:      %s\n", summary.NewFingerprint)
	_, _ = fmt.Fprintf(writer, "  Sessions invalidated: %d\n", summary.RecordsMigrated)
	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintln(writer, "Set SESSION_SECRET to the new value and restart the service.")
	_, _ = fmt.Fprintln(writer, "All users must re-authenticate.")

	return nil
}
