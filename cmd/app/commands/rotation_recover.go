package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
)

// RunRotationRecover fails rotation ledger records abandoned by a crashed
// process, so the single-flight guard stops rejecting new rotation attempts
// with "rotation already in progress". Only records older than the threshold
// are touched; cursors survive, so the next run resumes instead of restarting.
func RunRotationRecover(
	ctx context.Context,
	rotation rotationUseCase.UseCase,
	writer io.Writer,
	keyType string,
	olderThan time.Duration,
	actorID string,
) error {
	actor, err := parseActorID(actorID)
	if err != nil {
		return err
	}

	keyTypes := []cryptoDomain.KeyType{
		cryptoDomain.KeyTypePHIEncryption,
		cryptoDomain.KeyTypeSessionSecret,
	}
	if keyType != "all" {
		keyTypes = []cryptoDomain.KeyType{cryptoDomain.KeyType(keyType)}
	}

	var total int64
	for _, kt := range keyTypes {
		recovered, err := rotation.RecoverStale(ctx, &rotationUseCase.RecoverStaleInput{
			KeyType:   kt,
			OlderThan: olderThan,
			ActorID:   actor,
		})
		if err != nil {
			return fmt.Errorf("failed to recover stale rotations for %s: %w", kt, err)
		}
		total += recovered
		_, _ = fmt.Fprintf(writer, "%-20s %d stale record(s) marked failed\n", kt, recovered)
	}

	if total == 0 {
		_, _ = fmt.Fprintf(writer, "No open rotation records older than %s.\n", olderThan)
		return nil
	}

	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintln(writer, "Cursors were kept; rerun the rotation to resume from the last committed page.")
	return nil
}
