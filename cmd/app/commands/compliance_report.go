package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	auditDomain "github.com/allisson/phivault/internal/audit/domain"
	auditUseCase "github.com/allisson/phivault/internal/audit/usecase"
)

// RunComplianceReport generates the aggregated audit report for a time window,
// including anomaly findings. Dates accept YYYY-MM-DD or YYYY-MM-DD HH:MM:SS;
// the window defaults to the last 24 hours.
func RunComplianceReport(
	ctx context.Context,
	compliance auditUseCase.ComplianceUseCase,
	writer io.Writer,
	startDate, endDate, format string,
) error {
	from, to, err := parseTimeRange(startDate, endDate)
	if err != nil {
		return err
	}

	report, err := compliance.Report(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to generate compliance report: %w", err)
	}

	anomalies, err := compliance.Anomalies(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to detect anomalies: %w", err)
	}

	if format == "json" {
		payload := struct {
			Report    *auditUseCase.ComplianceReport `json:"report"`
			Anomalies []auditUseCase.Anomaly         `json:"anomalies"`
		}{Report: report, Anomalies: anomalies}

		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(payload); err != nil {
			return fmt.Errorf("failed to output JSON: %w", err)
		}
		return nil
	}

	printComplianceReport(writer, report, anomalies)
	return nil
}

func printComplianceReport(
	writer io.Writer,
	report *auditUseCase.ComplianceReport,
	anomalies []auditUseCase.Anomaly,
) {
	_, _ = fmt.Fprintf(writer, "Compliance Report\n")
	_, _ = fmt.Fprintf(writer, "=================\n\n")
	_, _ = fmt.Fprintf(writer,
		"Window: %s to %s\n\n",
		report.From.Format("2006-01-02 15:04:05"),
		report.To.Format("2006-01-02 15:04:05"),
	)

	_, _ = fmt.Fprintf(writer, "Total events:        %d\n", report.TotalEvents)
	_, _ = fmt.Fprintf(writer, "Successes:           %d\n", report.SuccessCount)
	_, _ = fmt.Fprintf(writer, "Failures:            %d\n", report.FailureCount)
	_, _ = fmt.Fprintf(writer, "Decryption failures: %d\n", report.DecryptionFailures)
	_, _ = fmt.Fprintf(writer, "Rotations completed: %d\n", report.RotationsCompleted)
	_, _ = fmt.Fprintf(writer, "Rotations failed:    %d\n", report.RotationsFailed)
	_, _ = fmt.Fprintf(writer, "PHI coverage ratio:  %.2f\n\n", report.PHICoverageRatio)

	if len(report.CountsByAction) > 0 {
		_, _ = fmt.Fprintf(writer, "Events by action:\n")
		actions := make([]string, 0, len(report.CountsByAction))
		for action := range report.CountsByAction {
			actions = append(actions, string(action))
		}
		sort.Strings(actions)
		for _, action := range actions {
			_, _ = fmt.Fprintf(writer, "  %-26s %d\n", action, report.CountsByAction[auditDomain.Action(action)])
		}
		_, _ = fmt.Fprintln(writer)
	}

	if len(anomalies) == 0 {
		_, _ = fmt.Fprintln(writer, "No anomalies detected.")
		return
	}

	_, _ = fmt.Fprintf(writer, "Anomalies (%d):\n", len(anomalies))
	for _, anomaly := range anomalies {
		actor := "-"
		if anomaly.ActorID != nil {
			actor = anomaly.ActorID.String()
		}
		_, _ = fmt.Fprintf(writer, "  [%s] %s actor=%s observed=%d\n",
			anomaly.Risk, anomaly.Kind, actor, anomaly.Observed)
		_, _ = fmt.Fprintf(writer, "    %s\n", anomaly.Description)
	}
}
