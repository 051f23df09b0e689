package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	"github.com/allisson/phivault/internal/config"
	"github.com/allisson/phivault/internal/metrics"
)

// Server is the operations HTTP server.
type Server struct {
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
	// cancel stops the middleware background goroutines on Shutdown.
	cancel context.CancelFunc
}

// NewServer builds the gin router with the standard middleware chain and the
// ops routes, and wraps it in an http.Server.
func NewServer(
	cfg *config.Config,
	handler *OpsHandler,
	metricsProvider *metrics.Provider,
	logger *slog.Logger,
) *Server {
	serverCtx, cancel := context.WithCancel(context.Background())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(CorrelationMiddleware())
	router.Use(LoggerMiddleware(logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}
	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", healthHandler)

	v1 := router.Group("/v1")
	if cfg.RateLimitEnabled {
		v1.Use(RateLimitMiddleware(serverCtx, cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst))
	}
	v1.GET("/compliance/report", handler.ComplianceReportHandler)
	v1.GET("/compliance/anomalies", handler.AnomaliesHandler)
	v1.GET("/compliance/verify", handler.VerifyAuditHandler)
	v1.GET("/rotation/status", handler.RotationStatusHandler)
	v1.GET("/rotation/key-ages", handler.KeyAgesHandler)

	return &Server{
		router: router,
		logger: logger,
		cancel: cancel,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.OpsServerHost, cfg.OpsServerPort),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the router for testing purposes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting ops server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start ops server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server and stops the middleware
// background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")
	s.cancel()
	return s.server.Shutdown(ctx)
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
