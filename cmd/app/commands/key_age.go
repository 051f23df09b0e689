package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
)

// RunKeyAges reports the age of each managed key against its rotation policy.
// Keys with no completed rotation on record are reported as overdue: an
// unknown age must alert, not reassure. Returns an error when any key is
// overdue so schedulers can page on the exit code.
func RunKeyAges(
	ctx context.Context,
	rotation rotationUseCase.UseCase,
	writer io.Writer,
	format string,
) error {
	ages, err := rotation.KeyAges(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute key ages: %w", err)
	}

	if format == "json" {
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(ages); err != nil {
			return fmt.Errorf("failed to output JSON: %w", err)
		}
	} else {
		printKeyAges(writer, ages)
	}

	overdue := 0
	for _, age := range ages {
		if age.Overdue {
			overdue++
		}
	}
	if overdue > 0 {
		return fmt.Errorf("%d key(s) overdue for rotation", overdue)
	}

	return nil
}

func printKeyAges(writer io.Writer, ages []rotationUseCase.KeyAge) {
	_, _ = fmt.Fprintf(writer, "Key Rotation Ages\n")
	_, _ = fmt.Fprintf(writer, "=================\n\n")

	for _, age := range ages {
		status := "ok"
		if age.Overdue {
			status = "OVERDUE"
		}
		lastRotated := "never"
		if age.LastRotatedAt != nil {
			lastRotated = age.LastRotatedAt.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(writer, "%s\n", age.KeyType)
		_, _ = fmt.Fprintf(writer, "  Last rotated: %s\n", lastRotated)
		_, _ = fmt.Fprintf(writer, "  Age:          %s\n", age.Age.Round(time.Minute))
		_, _ = fmt.Fprintf(writer, "  Max age:      %s\n", age.MaxAge)
		_, _ = fmt.Fprintf(writer, "  Status:       %s\n\n", status)
	}
}
