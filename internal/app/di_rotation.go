package app

import (
	"context"
	"fmt"

	backupUseCase "github.com/allisson/phivault/internal/backup/usecase"
	phiUseCase "github.com/allisson/phivault/internal/phi/usecase"
	rotationRepository "github.com/allisson/phivault/internal/rotation/repository"
	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
	sessionRepository "github.com/allisson/phivault/internal/session/repository"
)

// LedgerRepository returns the rotation ledger repository for the configured driver.
func (c *Container) LedgerRepository() (rotationUseCase.LedgerRepository, error) {
	c.ledgerRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["ledgerRepo"] = fmt.Errorf("failed to get database for ledger repository: %w", err)
			return
		}

		switch c.config.DBDriver {
		case "mysql":
			c.ledgerRepo = rotationRepository.NewMySQLLedgerRepository(db)
		case "postgres":
			c.ledgerRepo = rotationRepository.NewPostgreSQLLedgerRepository(db)
		default:
			c.initErrors["ledgerRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if err, exists := c.initErrors["ledgerRepo"]; exists {
		return nil, err
	}
	return c.ledgerRepo, nil
}

// CursorRepository returns the rotation cursor repository for the configured driver.
func (c *Container) CursorRepository() (rotationUseCase.CursorRepository, error) {
	c.cursorRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["cursorRepo"] = fmt.Errorf("failed to get database for cursor repository: %w", err)
			return
		}

		switch c.config.DBDriver {
		case "mysql":
			c.cursorRepo = rotationRepository.NewMySQLCursorRepository(db)
		case "postgres":
			c.cursorRepo = rotationRepository.NewPostgreSQLCursorRepository(db)
		default:
			c.initErrors["cursorRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if err, exists := c.initErrors["cursorRepo"]; exists {
		return nil, err
	}
	return c.cursorRepo, nil
}

// RecordRepository returns the encrypted row pager for the configured driver.
func (c *Container) RecordRepository() (rotationUseCase.RecordRepository, error) {
	c.recordRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["recordRepo"] = fmt.Errorf("failed to get database for record repository: %w", err)
			return
		}

		switch c.config.DBDriver {
		case "mysql":
			c.recordRepo = rotationRepository.NewMySQLRecordRepository(db)
		case "postgres":
			c.recordRepo = rotationRepository.NewPostgreSQLRecordRepository(db)
		default:
			c.initErrors["recordRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if err, exists := c.initErrors["recordRepo"]; exists {
		return nil, err
	}
	return c.recordRepo, nil
}

// SessionRepository returns the session repository for the configured driver.
func (c *Container) SessionRepository() (rotationUseCase.SessionRepository, error) {
	c.sessionRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["sessionRepo"] = fmt.Errorf("failed to get database for session repository: %w", err)
			return
		}

		switch c.config.DBDriver {
		case "mysql":
			c.sessionRepo = sessionRepository.NewMySQLSessionRepository(db)
		case "postgres":
			c.sessionRepo = sessionRepository.NewPostgreSQLSessionRepository(db)
		default:
			c.initErrors["sessionRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if err, exists := c.initErrors["sessionRepo"]; exists {
		return nil, err
	}
	return c.sessionRepo, nil
}

// RotationUseCase returns the rotation orchestrator wrapped with metrics.
func (c *Container) RotationUseCase() (rotationUseCase.UseCase, error) {
	c.rotationInit.Do(func() {
		useCase, err := c.initRotationUseCase()
		if err != nil {
			c.initErrors["rotation"] = err
			return
		}
		c.rotation = useCase
	})
	if err, exists := c.initErrors["rotation"]; exists {
		return nil, err
	}
	return c.rotation, nil
}

func (c *Container) initRotationUseCase() (rotationUseCase.UseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, err
	}
	ledgerRepo, err := c.LedgerRepository()
	if err != nil {
		return nil, err
	}
	cursorRepo, err := c.CursorRepository()
	if err != nil {
		return nil, err
	}
	recordRepo, err := c.RecordRepository()
	if err != nil {
		return nil, err
	}
	sessionRepo, err := c.SessionRepository()
	if err != nil {
		return nil, err
	}
	material, err := c.KeyMaterial()
	if err != nil {
		return nil, err
	}
	sessionSecret, err := c.SessionSecret()
	if err != nil {
		return nil, err
	}
	recorder, err := c.AuditRecorder()
	if err != nil {
		return nil, err
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, err
	}

	useCase := rotationUseCase.NewRotationUseCase(
		rotationUseCase.Config{
			PageSize:            c.config.RotationPageSize,
			Workers:             c.config.RotationWorkers,
			PHIKeyMaxAge:        c.config.PHIKeyMaxAge,
			SessionSecretMaxAge: c.config.SessionSecretMaxAge,
		},
		txManager,
		ledgerRepo,
		cursorRepo,
		recordRepo,
		sessionRepo,
		c.EnvelopeCipher(),
		material,
		sessionSecret,
		c.Registry(),
		recorder,
		c.Logger(),
	)

	return rotationUseCase.NewUseCaseWithMetrics(useCase, businessMetrics), nil
}

// FieldUseCase returns the PHI field facade.
func (c *Container) FieldUseCase() (phiUseCase.FieldUseCase, error) {
	c.fieldSvcInit.Do(func() {
		material, err := c.KeyMaterial()
		if err != nil {
			c.initErrors["fieldSvc"] = err
			return
		}
		recorder, err := c.AuditRecorder()
		if err != nil {
			c.initErrors["fieldSvc"] = err
			return
		}

		c.fieldSvc = phiUseCase.NewFieldService(
			c.EnvelopeCipher(),
			material,
			c.Registry(),
			recorder,
			c.Logger(),
		)
	})
	if err, exists := c.initErrors["fieldSvc"]; exists {
		return nil, err
	}
	return c.fieldSvc, nil
}

// BackupVault returns the encrypted backup vault. Requires BACKUP_BUCKET_URL.
func (c *Container) BackupVault() (backupUseCase.VaultUseCase, error) {
	c.backupVaultInit.Do(func() {
		if c.config.BackupBucketURL == "" {
			c.initErrors["backupVault"] = fmt.Errorf("BACKUP_BUCKET_URL is not configured")
			return
		}
		material, err := c.KeyMaterial()
		if err != nil {
			c.initErrors["backupVault"] = err
			return
		}
		recorder, err := c.AuditRecorder()
		if err != nil {
			c.initErrors["backupVault"] = err
			return
		}

		vault, err := backupUseCase.NewVaultService(
			context.Background(),
			c.config.BackupBucketURL,
			c.EnvelopeCipher(),
			material,
			recorder,
			c.Logger(),
		)
		if err != nil {
			c.initErrors["backupVault"] = err
			return
		}
		c.backupVault = vault
	})
	if err, exists := c.initErrors["backupVault"]; exists {
		return nil, err
	}
	return c.backupVault, nil
}
