package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/synthflow/internal/application/orchestrator"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	health       *workers.HealthMonitor
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	Health       *workers.HealthMonitor
	Logger       *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		health:       cfg.Health,
		logger:       logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", s.handleSubmitJob)
		v1.GET("/jobs", s.handleListJobs)
		v1.GET("/jobs/:id", s.handleGetJob)
		v1.GET("/jobs/:id/result", s.handleGetResult)
		v1.GET("/jobs/:id/audit", s.handleGetAudit)
		v1.POST("/jobs/:id/cancel", s.handleCancelJob)
		// Node ids of group members contain a slash.
		v1.GET("/jobs/:id/replay/*node", s.handleReplay)

		// Provenance
		v1.GET("/transparency/*component", s.handleTransparency)

		// Human review
		v1.GET("/reviews", s.handleListReviews)
		v1.POST("/reviews/:id/complete", s.handleCompleteReview)

		// Execution slots
		v1.GET("/slots", s.handleSlots)
	}
}

// SetupWebSocket adds the job event stream handler to the server
func (s *Server) SetupWebSocket(handler gin.HandlerFunc) {
	s.router.GET("/api/v1/jobs/:id/ws", handler)
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
