// Package http provides the HTTP adapter over the workflow core. It is a
// thin layer translating requests into service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicehq/crm/internal/history"
	"github.com/practicehq/crm/internal/report"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/internal/workflow"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates a new HTTP server wired to the workflow core
func NewServer(
	config ServerConfig,
	workflowSvc *workflow.Service,
	historySvc *history.Service,
	reporter *report.DurationReporter,
	requestRepo *repository.RequestRepository,
	userRepo *repository.UserRepository,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	router.Use(gin.Recovery())
	router.Use(server.loggingMiddleware())

	handlers := NewHandlers(workflowSvc, historySvc, reporter, requestRepo, userRepo, logger)

	router.GET("/health", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/workflows/:id", handlers.GetWorkflow)
		api.POST("/workflows/:id/validate", handlers.ValidateWorkflow)
		api.POST("/workflows/:id/duplicate", handlers.DuplicateWorkflow)

		api.GET("/requests/:id/transitions", handlers.ListTransitions)
		api.POST("/requests/:id/transitions/:transitionId", handlers.ExecuteTransition)
		api.GET("/requests/:id/history", handlers.GetHistory)
		api.GET("/requests/:id/durations", handlers.GetDurations)

		api.GET("/reports/state-durations.xlsx", handlers.StateDurationReport)
	}

	return server
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
