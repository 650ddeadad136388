// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/labsight/deidgate/internal/audit"
	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/middleware"
	"github.com/labsight/deidgate/internal/pipeline"
	"github.com/labsight/deidgate/internal/report"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pipeline is the analysis and report flow behind the order routes.
type Pipeline interface {
	Authorize(ctx context.Context, orderRef, subject string) error
	Analyze(ctx context.Context, orderRef string, sub *domain.RawSubmission) (*pipeline.Outcome, error)
	Report(ctx context.Context, orderRef, subject string) (*report.RenderedReport, error)
	Publish(ctx context.Context, orderRef, subject string) (*pipeline.PublishResult, error)
}

// StatsReader reads gate decision counters.
type StatsReader interface {
	Snapshot(ctx context.Context) (*audit.StatsSnapshot, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators of a Server. Stats, Verifier and
// Checks are optional; a nil Verifier disables authentication.
type Dependencies struct {
	Pipeline Pipeline
	Stats    StatsReader
	Verifier *middleware.TokenVerifier
	Checks   map[string]HealthCheck
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies, logger *logrus.Logger) *Server {
	if configManager.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.RequestTimeout(configManager.GetServerConfig().RequestTimeout))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		logger:        logger,
		router:        router,
	}

	server.setupRoutes()

	return server
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	if s.deps.Verifier != nil {
		v1.Use(middleware.RequireSubject(s.deps.Verifier))
	}
	{
		v1.POST("/orders/:order_ref/analysis", s.handleAnalyze)
		v1.GET("/orders/:order_ref/report", s.handleReport)
		v1.POST("/orders/:order_ref/report/publish", s.handlePublish)
		v1.POST("/scrub", s.handleScrub)
		v1.GET("/stats/blocks", s.handleBlockStats)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			s.logger.WithError(err).WithField("check", name).Warn("Health check failed")
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

func (s *Server) handleBlockStats(c *gin.Context) {
	if s.deps.Stats == nil {
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeInternalServer,
			"Block statistics are not configured", "")
		return
	}
	snap, err := s.deps.Stats.Snapshot(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to read block stats")
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer,
			"Block statistics are unavailable", "")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) respondError(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, domain.NewAppError(code, message, details, c.GetString(middleware.CorrelationIDKey)))
}
