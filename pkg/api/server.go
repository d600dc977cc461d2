// Package api exposes the HTTP surface: alert and change ingest, incident
// reads, human review, metrics, and the admin purge. Every endpoint writes
// an audit row in the same transaction as its action.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/database"
	"github.com/incidentops/iats/pkg/ingest"
	"github.com/incidentops/iats/pkg/store"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	settings *config.Settings
	db       *database.Client
	store    *store.Store
	registry *config.ServiceRegistry
	ingest   *ingest.Service
}

// NewServer creates the API server.
func NewServer(settings *config.Settings, db *database.Client, st *store.Store, registry *config.ServiceRegistry, ingestSvc *ingest.Service) *Server {
	return &Server{
		settings: settings,
		db:       db,
		store:    st,
		registry: registry,
		ingest:   ingestSvc,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.Health)

	v1 := r.Group("/v1", s.authMiddleware())
	{
		alerts := v1.Group("/alerts", requireIngest())
		alerts.POST("/cloudwatch", s.IngestCloudWatch)
		alerts.POST("/alertmanager", s.IngestAlertmanager)

		changes := v1.Group("/changes", requireIngest())
		changes.POST("/deployments", s.CreateDeployment)
		changes.POST("/config", s.CreateConfigChange)

		v1.GET("/incidents", s.ListIncidents)
		v1.GET("/incidents/:id", s.GetIncident)
		v1.GET("/incidents/:id/evidence", s.GetEvidence)
		v1.GET("/incidents/:id/report", s.GetReport)
		v1.POST("/incidents/:id/decision", s.PostDecision)
		v1.POST("/incidents/:id/status", s.PostStatus)
		v1.POST("/incidents/:id/feedback", s.PostFeedback)
		v1.GET("/incidents/:id/feedback", s.ListFeedback)

		v1.GET("/metrics/quality", s.QualityMetrics)
		v1.GET("/metrics/runtime", s.RuntimeMetrics)

		v1.POST("/admin/purge", requireAdmin(), s.Purge)
	}

	return r
}

// Health reports liveness. The database must answer a ping.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
