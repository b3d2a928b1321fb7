package ops

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/internal/infrastructure/config"
	"github.com/bankdata-service/bankdata_service/pkg/health"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
	"github.com/bankdata-service/bankdata_service/pkg/version"
)

// RunReader exposes the run history to the ops surface
type RunReader interface {
	RecentRuns(ctx context.Context, limit int) ([]entities.PipelineRun, error)
}

// AlertReader exposes open alerts to the ops surface
type AlertReader interface {
	OpenAlerts(ctx context.Context, limit int) ([]entities.RiskAlert, error)
}

// Runner triggers a pipeline run on demand
type Runner interface {
	Execute(ctx context.Context) (*entities.RunReport, error)
}

// Server is the operational HTTP surface: health, metrics, run history and
// a manual run trigger. It carries no record data endpoints.
type Server struct {
	engine  *gin.Engine
	http    *http.Server
	checker *health.HealthChecker
	runs    RunReader
	alerts  AlertReader
	runner  Runner
	logger  *logger.Logger
}

// NewServer creates the ops server and registers its routes
func NewServer(cfg config.ServerConfig, environment string, checker *health.HealthChecker, runs RunReader, alerts AlertReader, runner Runner, log *logger.Logger) *Server {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		checker: checker,
		runs:    runs,
		alerts:  alerts,
		runner:  runner,
		logger:  log,
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/version", s.handleVersion)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/runs", s.handleRuns)
	engine.GET("/alerts", s.handleAlerts)
	engine.POST("/runs", s.handleTrigger)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Infow("ops server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	results := s.checker.CheckAll(c.Request.Context())

	status := health.StatusHealthy
	for _, result := range results {
		if result.Status != health.StatusHealthy {
			status = health.StatusUnhealthy
		}
	}

	code := http.StatusOK
	if status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    results,
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

func (s *Server) handleRuns(c *gin.Context) {
	limit := queryLimit(c, 20)
	runs, err := s.runs.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Errorw("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleAlerts(c *gin.Context) {
	limit := queryLimit(c, 50)
	alerts, err := s.alerts.OpenAlerts(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Errorw("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// handleTrigger starts a run synchronously and reports its outcome
func (s *Server) handleTrigger(c *gin.Context) {
	report, err := s.runner.Execute(c.Request.Context())
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Errorw("manual run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":        report.RunID,
		"status":        report.Status,
		"issues":        len(report.Issues),
		"alerts":        len(report.Alerts),
		"warnings":      report.Warnings,
		"artifact_path": report.ArtifactPath,
	})
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
