package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	auditUseCase "github.com/allisson/phivault/internal/audit/usecase"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/httputil"
	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
)

// defaultReportWindow is used when the caller does not bound the query.
const defaultReportWindow = 24 * time.Hour

// OpsHandler handles the operations endpoints: compliance queries and
// rotation status. It returns aggregates and identifiers only.
type OpsHandler struct {
	compliance auditUseCase.ComplianceUseCase
	rotation   rotationUseCase.UseCase
	logger     *slog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(
	compliance auditUseCase.ComplianceUseCase,
	rotation rotationUseCase.UseCase,
	logger *slog.Logger,
) *OpsHandler {
	return &OpsHandler{
		compliance: compliance,
		rotation:   rotation,
		logger:     logger,
	}
}

// ComplianceReportHandler returns the aggregate compliance report for a window.
// GET /v1/compliance/report?from=2026-08-01T00:00:00Z&to=2026-08-23T00:00:00Z
func (h *OpsHandler) ComplianceReportHandler(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	report, err := h.compliance.Report(c.Request.Context(), from, to)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, report)
}

// AnomaliesHandler returns suspicious audit trail patterns for a window.
// GET /v1/compliance/anomalies?from=...&to=...
func (h *OpsHandler) AnomaliesHandler(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	anomalies, err := h.compliance.Anomalies(c.Request.Context(), from, to)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": anomalies})
}

// VerifyAuditHandler recomputes audit signatures for a window and reports
// tampered rows.
// GET /v1/compliance/verify?from=...&to=...
func (h *OpsHandler) VerifyAuditHandler(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	result, err := h.compliance.VerifySignatures(c.Request.Context(), from, to)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RotationStatusHandler returns the most recent rotation record for a key type.
// GET /v1/rotation/status?key_type=phi_encryption_key
func (h *OpsHandler) RotationStatusHandler(c *gin.Context) {
	keyType := cryptoDomain.KeyType(c.DefaultQuery("key_type", string(cryptoDomain.KeyTypePHIEncryption)))
	if !keyType.Valid() {
		httputil.HandleValidationErrorGin(c,
			fmt.Errorf("unknown key_type %q", keyType), h.logger)
		return
	}

	record, err := h.rotation.Status(c.Request.Context(), keyType)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rotation_id":      record.ID.String(),
		"key_type":         record.KeyType,
		"reason":           record.Reason,
		"status":           record.Status,
		"old_fingerprint":  record.OldFingerprint,
		"new_fingerprint":  record.NewFingerprint,
		"records_affected": record.RecordsAffected,
		"started_at":       record.StartedAt,
		"completed_at":     record.CompletedAt,
	})
}

// KeyAgesHandler returns the age of each managed key against its policy.
// GET /v1/rotation/key-ages
func (h *OpsHandler) KeyAgesHandler(c *gin.Context) {
	ages, err := h.rotation.KeyAges(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ages})
}

// parseWindow parses the from/to query parameters. Missing boundaries default
// to the last 24 hours.
func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-defaultReportWindow)
	to := now

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf(
				"invalid from format: must be RFC3339 (e.g., 2026-08-01T00:00:00Z)")
		}
		from = parsed.UTC()
	}
	if toStr := c.Query("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf(
				"invalid to format: must be RFC3339 (e.g., 2026-08-23T00:00:00Z)")
		}
		to = parsed.UTC()
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be before or equal to to")
	}

	return from, to, nil
}
