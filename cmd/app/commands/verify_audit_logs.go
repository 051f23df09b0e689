package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	auditUseCase "github.com/allisson/phivault/internal/audit/usecase"
)

// RunVerifyAuditLogs verifies the HMAC-SHA256 signature of every audit event
// in a time range for tamper detection. Returns an error when any signature
// fails so schedulers can page on the exit code.
func RunVerifyAuditLogs(
	ctx context.Context,
	compliance auditUseCase.ComplianceUseCase,
	logger *slog.Logger,
	writer io.Writer,
	startDate, endDate string,
) error {
	from, to, err := parseTimeRange(startDate, endDate)
	if err != nil {
		return err
	}

	logger.Info("verifying audit logs",
		slog.Time("start_date", from),
		slog.Time("end_date", to),
	)

	result, err := compliance.VerifySignatures(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to verify audit logs: %w", err)
	}

	_, _ = fmt.Fprintf(writer, "Audit Log Integrity Verification\n")
	_, _ = fmt.Fprintf(writer, "================================\n\n")
	_, _ = fmt.Fprintf(writer,
		"Time range: %s to %s\n\n",
		from.Format("2006-01-02 15:04:05"),
		to.Format("2006-01-02 15:04:05"),
	)
	_, _ = fmt.Fprintf(writer, "Checked: %d\n", result.Checked)
	_, _ = fmt.Fprintf(writer, "Invalid: %d\n\n", result.Invalid)

	if result.Invalid > 0 {
		_, _ = fmt.Fprintf(writer, "WARNING: %d event(s) failed integrity check!\n\n", result.Invalid)
		_, _ = fmt.Fprintf(writer, "Invalid event IDs:\n")
		for _, id := range result.InvalidIDs {
			_, _ = fmt.Fprintf(writer, "  - %s\n", id)
		}
	} else {
		_, _ = fmt.Fprintln(writer, "All signatures valid.")
	}

	logger.Info("verification completed",
		slog.Int64("checked", result.Checked),
		slog.Int64("invalid", result.Invalid),
	)

	if result.Invalid > 0 {
		return fmt.Errorf("integrity check failed: %d invalid signature(s)", result.Invalid)
	}

	return nil
}
