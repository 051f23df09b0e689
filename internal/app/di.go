// Package app provides the dependency injection container for assembling
// application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	auditService "github.com/allisson/phivault/internal/audit/service"
	auditUseCase "github.com/allisson/phivault/internal/audit/usecase"
	backupUseCase "github.com/allisson/phivault/internal/backup/usecase"
	"github.com/allisson/phivault/internal/config"
	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
	"github.com/allisson/phivault/internal/database"
	"github.com/allisson/phivault/internal/http"
	"github.com/allisson/phivault/internal/metrics"
	phiUseCase "github.com/allisson/phivault/internal/phi/usecase"
	"github.com/allisson/phivault/internal/registry"
	rotationUseCase "github.com/allisson/phivault/internal/rotation/usecase"
)

// Container holds all application dependencies and provides methods to access
// them. Components are created lazily on first access.
type Container struct {
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	txManager       database.TxManager
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics
	registry        *registry.Registry

	// Crypto
	kmsKeeper     cryptoService.KMSKeeper
	keyMaterial   *cryptoDomain.KeyMaterial
	sessionSecret *cryptoDomain.Key
	signingKey    *cryptoDomain.Key
	cipher        cryptoService.EnvelopeCipher

	// Audit
	auditRepo     auditUseCase.AuditLogRepository
	auditSigner   auditService.AuditSigner
	auditRecorder *auditUseCase.AsyncRecorder
	compliance    auditUseCase.ComplianceUseCase

	// Rotation and PHI access
	ledgerRepo  rotationUseCase.LedgerRepository
	cursorRepo  rotationUseCase.CursorRepository
	recordRepo  rotationUseCase.RecordRepository
	sessionRepo rotationUseCase.SessionRepository
	rotation    rotationUseCase.UseCase
	fieldSvc    phiUseCase.FieldUseCase
	backupVault backupUseCase.VaultUseCase

	// Servers
	opsServer     *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	txManagerInit       sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	registryInit        sync.Once
	kmsInit             sync.Once
	keyMaterialInit     sync.Once
	sessionSecretInit   sync.Once
	signingKeyInit      sync.Once
	cipherInit          sync.Once
	auditRepoInit       sync.Once
	auditSignerInit     sync.Once
	auditRecorderInit   sync.Once
	complianceInit      sync.Once
	ledgerRepoInit      sync.Once
	cursorRepoInit      sync.Once
	recordRepoInit      sync.Once
	sessionRepoInit     sync.Once
	rotationInit        sync.Once
	fieldSvcInit        sync.Once
	backupVaultInit     sync.Once
	opsServerInit       sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
func (c *Container) DB() (*sql.DB, error) {
	c.dbInit.Do(func() {
		db, err := c.initDB()
		if err != nil {
			c.initErrors["db"] = err
			return
		}
		c.db = db
	})
	if err, exists := c.initErrors["db"]; exists {
		return nil, err
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
func (c *Container) TxManager() (database.TxManager, error) {
	c.txManagerInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["txManager"] = fmt.Errorf("failed to get database for tx manager: %w", err)
			return
		}
		c.txManager = database.NewTxManager(db)
	})
	if err, exists := c.initErrors["txManager"]; exists {
		return nil, err
	}
	return c.txManager, nil
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		provider, err := metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
			return
		}
		c.metricsProvider = provider
	})
	if err, exists := c.initErrors["metricsProvider"]; exists {
		return nil, err
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business metrics recorder. No-op when metrics
// are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	c.businessMetricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["businessMetrics"] = err
			return
		}
		if provider == nil {
			c.businessMetrics = metrics.NewNoOpBusinessMetrics()
			return
		}
		bm, err := metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["businessMetrics"] = err
			return
		}
		c.businessMetrics = bm
	})
	if err, exists := c.initErrors["businessMetrics"]; exists {
		return nil, err
	}
	return c.businessMetrics, nil
}

// Registry returns the encrypted field registry.
func (c *Container) Registry() *registry.Registry {
	c.registryInit.Do(func() {
		c.registry = registry.Default()
	})
	return c.registry
}

// OpsServer returns the operations HTTP server.
func (c *Container) OpsServer() (*http.Server, error) {
	c.opsServerInit.Do(func() {
		server, err := c.initOpsServer()
		if err != nil {
			c.initErrors["opsServer"] = err
			return
		}
		c.opsServer = server
	})
	if err, exists := c.initErrors["opsServer"]; exists {
		return nil, err
	}
	return c.opsServer, nil
}

// MetricsServer returns the metrics HTTP server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = err
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(
			c.config.OpsServerHost,
			c.config.MetricsPort,
			c.Logger(),
			provider,
		)
	})
	if err, exists := c.initErrors["metricsServer"]; exists {
		return nil, err
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources: it drains the audit
// recorder, closes servers and the database, and zeroes key material.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.opsServer != nil {
		if err := c.opsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("ops server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	// Drain buffered audit events before the database goes away.
	if c.auditRecorder != nil {
		if err := c.auditRecorder.Close(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("audit recorder close: %w", err))
		}
	}

	if c.backupVault != nil {
		if err := c.backupVault.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("backup vault close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.kmsKeeper != nil {
		if err := c.kmsKeeper.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("kms close: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	c.keyMaterial.Close()
	c.sessionSecret.Close()
	c.signingKey.Close()

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates a structured JSON logger based on the configured level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(context.Background(), database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initOpsServer creates the ops HTTP server with all its dependencies.
func (c *Container) initOpsServer() (*http.Server, error) {
	compliance, err := c.ComplianceUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance use case for ops server: %w", err)
	}

	rotation, err := c.RotationUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation use case for ops server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for ops server: %w", err)
	}

	handler := http.NewOpsHandler(compliance, rotation, c.Logger())
	return http.NewServer(c.config, handler, provider, c.Logger()), nil
}
