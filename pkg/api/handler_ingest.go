package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incidentops/iats/pkg/models"
	"github.com/incidentops/iats/pkg/store"
)

// IngestCloudWatch handles POST /v1/alerts/cloudwatch.
func (s *Server) IngestCloudWatch(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.ingest.IngestCloudWatch(c.Request.Context(), payload, principal(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// IngestAlertmanager handles POST /v1/alerts/alertmanager.
func (s *Server) IngestAlertmanager(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.ingest.IngestAlertmanager(c.Request.Context(), payload, principal(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// createDeploymentRequest is the POST /v1/changes/deployments body.
type createDeploymentRequest struct {
	Service    string         `json:"service" binding:"required"`
	Env        string         `json:"env" binding:"required"`
	DeployedAt time.Time      `json:"deployed_at" binding:"required"`
	Version    string         `json:"version"`
	GitSHA     string         `json:"git_sha"`
	Actor      string         `json:"actor"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
}

// CreateDeployment handles POST /v1/changes/deployments.
func (s *Server) CreateDeployment(c *gin.Context) {
	var req createDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	deploy := &models.DeploymentEvent{
		Service:    req.Service,
		Env:        req.Env,
		DeployedAt: req.DeployedAt,
		Version:    req.Version,
		GitSHA:     req.GitSHA,
		Actor:      req.Actor,
		Source:     req.Source,
		Metadata:   req.Metadata,
	}
	err := s.store.WithTx(c.Request.Context(), func(tx *store.Store) error {
		if err := tx.CreateDeploymentEvent(c.Request.Context(), deploy); err != nil {
			return err
		}
		return tx.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			Actor:        principal(c).Subject,
			Action:       "deployment.ingest",
			ResourceType: "deployment_event",
			ResourceID:   deploy.ID.String(),
			Details:      map[string]any{"service": req.Service, "env": req.Env, "version": req.Version},
		})
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deploy)
}

// createConfigChangeRequest is the POST /v1/changes/config body.
type createConfigChangeRequest struct {
	Service   string         `json:"service" binding:"required"`
	Env       string         `json:"env" binding:"required"`
	ChangedAt time.Time      `json:"changed_at" binding:"required"`
	Actor     string         `json:"actor"`
	Diff      map[string]any `json:"diff"`
	Source    string         `json:"source"`
}

// CreateConfigChange handles POST /v1/changes/config.
func (s *Server) CreateConfigChange(c *gin.Context) {
	var req createConfigChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	change := &models.ConfigChange{
		Service:   req.Service,
		Env:       req.Env,
		ChangedAt: req.ChangedAt,
		Actor:     req.Actor,
		Diff:      req.Diff,
		Source:    req.Source,
	}
	err := s.store.WithTx(c.Request.Context(), func(tx *store.Store) error {
		if err := tx.CreateConfigChange(c.Request.Context(), change); err != nil {
			return err
		}
		return tx.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			Actor:        principal(c).Subject,
			Action:       "config.ingest",
			ResourceType: "config_change",
			ResourceID:   change.ID.String(),
			Details:      map[string]any{"service": req.Service, "env": req.Env},
		})
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}
