package app

import (
	"fmt"

	auditRepository "github.com/allisson/phivault/internal/audit/repository"
	auditService "github.com/allisson/phivault/internal/audit/service"
	auditUseCase "github.com/allisson/phivault/internal/audit/usecase"
)

// AuditLogRepository returns the audit log repository for the configured driver.
func (c *Container) AuditLogRepository() (auditUseCase.AuditLogRepository, error) {
	c.auditRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["auditRepo"] = fmt.Errorf("failed to get database for audit repository: %w", err)
			return
		}

		switch c.config.DBDriver {
		case "mysql":
			c.auditRepo = auditRepository.NewMySQLAuditLogRepository(db)
		case "postgres":
			c.auditRepo = auditRepository.NewPostgreSQLAuditLogRepository(db)
		default:
			c.initErrors["auditRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if err, exists := c.initErrors["auditRepo"]; exists {
		return nil, err
	}
	return c.auditRepo, nil
}

// AuditSigner returns the HMAC audit event signer.
func (c *Container) AuditSigner() (auditService.AuditSigner, error) {
	c.auditSignerInit.Do(func() {
		key, err := c.AuditSigningKey()
		if err != nil {
			c.initErrors["auditSigner"] = err
			return
		}
		signer, err := auditService.NewAuditSigner(key)
		if err != nil {
			c.initErrors["auditSigner"] = fmt.Errorf("failed to create audit signer: %w", err)
			return
		}
		c.auditSigner = signer
	})
	if err, exists := c.initErrors["auditSigner"]; exists {
		return nil, err
	}
	return c.auditSigner, nil
}

// AuditRecorder returns the async audit recorder.
func (c *Container) AuditRecorder() (*auditUseCase.AsyncRecorder, error) {
	c.auditRecorderInit.Do(func() {
		repo, err := c.AuditLogRepository()
		if err != nil {
			c.initErrors["auditRecorder"] = err
			return
		}
		signer, err := c.AuditSigner()
		if err != nil {
			c.initErrors["auditRecorder"] = err
			return
		}
		txManager, err := c.TxManager()
		if err != nil {
			c.initErrors["auditRecorder"] = err
			return
		}
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			c.initErrors["auditRecorder"] = err
			return
		}

		c.auditRecorder = auditUseCase.NewAsyncRecorder(
			auditUseCase.RecorderConfig{
				BufferSize:    c.config.AuditBufferSize,
				FallbackSize:  c.config.AuditFallbackSize,
				FlushInterval: c.config.AuditFlushInterval,
				RetryInterval: c.config.AuditRetryInterval,
			},
			repo,
			signer,
			txManager,
			businessMetrics,
			c.Logger(),
		)
	})
	if err, exists := c.initErrors["auditRecorder"]; exists {
		return nil, err
	}
	return c.auditRecorder, nil
}

// ComplianceUseCase returns the compliance reporting use case.
func (c *Container) ComplianceUseCase() (auditUseCase.ComplianceUseCase, error) {
	c.complianceInit.Do(func() {
		repo, err := c.AuditLogRepository()
		if err != nil {
			c.initErrors["compliance"] = err
			return
		}
		signer, err := c.AuditSigner()
		if err != nil {
			c.initErrors["compliance"] = err
			return
		}

		c.compliance = auditUseCase.NewComplianceService(
			auditUseCase.ComplianceConfig{},
			repo,
			signer,
			c.Registry(),
			c.Logger(),
		)
	})
	if err, exists := c.initErrors["compliance"]; exists {
		return nil, err
	}
	return c.compliance, nil
}
