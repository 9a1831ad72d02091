// Package api exposes the ingestion and answering operations over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 30 * time.Second

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string
	Port int
}

// Server hosts the HTTP surface.
type Server struct {
	asker  Asker
	jobs   *JobManager
	health map[string]HealthChecker
	log    zerolog.Logger

	httpServer *http.Server
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig, asker Asker, jobs *JobManager, health map[string]HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		asker:  asker,
		jobs:   jobs,
		health: health,
		log:    log.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RequestID())
	router.Use(AccessLog(s.log))
	router.Use(Recovery(s.log))
	router.Use(cors.Default())

	router.POST("/ingest", s.handleIngest)
	router.GET("/ingest/:job_id", s.handleIngestStatus)
	router.POST("/ask", s.handleAsk)
	router.POST("/ask/stream", s.handleAskStream)
	router.GET("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}
	return s
}

// Handler exposes the router, used by httptest in tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and waits for running ingest jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.log.Info().Msg("shutting down http server")
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.jobs.Wait()
	return nil
}
