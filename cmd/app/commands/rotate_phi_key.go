package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
	appValidation "github.com/allisson/phivault/internal/validation"
)

// RunRotatePHIKey re-encrypts every registered PHI column under a new key.
// The new key is read as 64 hex characters so it never appears in shell
// history via argv; callers pass it through the NEW_PHI_ENCRYPTION_KEY
// environment variable.
//
// The run is resumable: a partial failure leaves cursors behind and a rerun
// with the same key picks up where it stopped, skipping rows already under
// the new key.
func RunRotatePHIKey(
	ctx context.Context,
	rotation rotationUseCase.UseCase,
	logger *slog.Logger,
	writer io.Writer,
	newKeyHex, reason, actorID string,
	dryRun bool,
) error {
	err := appValidation.WrapValidationError(
		validation.Validate(newKeyHex, validation.Required, appValidation.HexKey),
	)
	if err != nil {
		return fmt.Errorf("invalid new key: %w", err)
	}

	newKey, err := cryptoDomain.ParseKeyHex(newKeyHex)
	if err != nil {
		return fmt.Errorf("invalid new key: %w", err)
	}
	defer newKey.Close()

	actor, err := parseActorID(actorID)
	if err != nil {
		return err
	}

	input := &rotationUseCase.RotatePHIKeyInput{
		NewKey:  newKey,
		Reason:  rotationDomain.Reason(reason),
		ActorID: actor,
		DryRun:  dryRun,
	}

	logger.Info("starting PHI key rotation",
		slog.String("reason", reason),
		slog.Bool("dry_run", dryRun),
		slog.String("new_fingerprint", newKey.Fingerprint()),
	)

	summary, err := rotation.RotatePHIKey(ctx, input)
	if err != nil {
		var partial *rotationDomain.PartialRotationError
		if errors.As(err, &partial) {
			_, _ = fmt.Fprintf(writer, "Rotation FAILED after migrating %d record(s).\n", partial.RecordsMigrated)
			_, _ = fmt.Fprintf(writer, "Cursors were saved; rerun with the same key to resume.\n")
		}
		return fmt.Errorf("failed to rotate PHI key: %w", err)
	}

	printRotationSummary(writer, summary)

	if !dryRun {
		_, _ = fmt.Fprintln(writer)
		_, _ = fmt.Fprintln(writer, "Next steps:")
		_, _ = fmt.Fprintf(writer, "  1. Set PHI_ENCRYPTION_KEY to the new key.\n")
		_, _ = fmt.Fprintf(writer, "  2. Set PHI_ENCRYPTION_KEY_RETIRED to the old key for the grace window.\n")
		_, _ = fmt.Fprintf(writer, "  3. Restart the service, then unset the retired key once verified.\n")
	}

	return nil
}

func parseActorID(actorID string) (*uuid.UUID, error) {
	if actorID == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(actorID)
	if err != nil {
		return nil, fmt.Errorf("invalid actor id: %w", err)
	}
	return &parsed, nil
}

func printRotationSummary(writer io.Writer, summary *rotationUseCase.RotationSummary) {
	label := "Rotation"
	if summary.DryRun {
		label = "Dry run"
	}
	_, _ = fmt.Fprintf(writer, "%s completed in %s\n", label, summary.Duration.Round(10*time.Millisecond))
	_, _ = fmt.Fprintf(writer, "  Key type:         %s\n", summary.KeyType)
	if summary.RotationID != uuid.Nil {
		_, _ = fmt.Fprintf(writer, "  Rotation ID:      %s\n", summary.RotationID)
	}
	_, _ = fmt.Fprintf(writer, "  Old fingerprint:  %s\n", summary.OldFingerprint)
	_, _ = fmt.Fprintf(writer, "  New fingerprint:  %s\n", summary.NewFingerprint)
	_, _ = fmt.Fprintf(writer, "  Records scanned:  %d\n", summary.RecordsScanned)
	_, _ = fmt.Fprintf(writer, "  Records migrated: %d\n", summary.RecordsMigrated)
	_, _ = fmt.Fprintf(writer, "  Records skipped:  %d\n", summary.RecordsSkipped)
}
