package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/models"
	"github.com/incidentops/iats/pkg/store"
)

// loadIncident resolves the :id path param, loads the incident, and enforces
// the service ACL. It writes the error response itself when it returns nil.
func (s *Server) loadIncident(c *gin.Context) *models.Incident {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return nil
	}
	incident, err := s.store.GetIncident(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil
	}
	if !principal(c).AllowsService(incident.Service) {
		c.JSON(http.StatusForbidden, gin.H{"error": "service not permitted for this principal"})
		return nil
	}
	return incident
}

// audit writes one audit row for a read endpoint.
func (s *Server) audit(c *gin.Context, action, resourceType, resourceID string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	err := s.store.CreateAuditLog(c.Request.Context(), &models.AuditLog{
		Actor:        principal(c).Subject,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
	if err != nil {
		writeError(c, err)
		c.Abort()
	}
}

// ListIncidents handles GET /v1/incidents, filtered to the principal's
// services.
func (s *Server) ListIncidents(c *gin.Context) {
	incidents, err := s.store.ListIncidents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	p := principal(c)
	visible := make([]*models.Incident, 0, len(incidents))
	for _, in := range incidents {
		if p.AllowsService(in.Service) {
			visible = append(visible, in)
		}
	}

	s.audit(c, "incidents.list", "incident", "", map[string]any{"count": len(visible)})
	if c.IsAborted() {
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": visible, "count": len(visible)})
}

// GetIncident handles GET /v1/incidents/{id}: the incident plus ownership
// context from the service registry.
func (s *Server) GetIncident(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	entry := s.registry.Resolve(incident.Service)
	s.audit(c, "incident.read", "incident", incident.ID.String(), nil)
	if c.IsAborted() {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incident":      incident,
		"owners":        entry.Owners,
		"runbook_url":   entry.RunbookURL,
		"dashboard_url": entry.DashboardURL,
	})
}

// GetEvidence handles GET /v1/incidents/{id}/evidence, returning the latest
// evidence pack.
func (s *Server) GetEvidence(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	pack, err := s.store.GetLatestEvidencePack(c.Request.Context(), incident.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "evidence.read", "evidence_pack", pack.ID.String(), nil)
	if c.IsAborted() {
		return
	}
	c.JSON(http.StatusOK, pack)
}

// GetReport handles GET /v1/incidents/{id}/report. A failed incident reports
// its failure; an incident without a report yet is a 404.
func (s *Server) GetReport(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	if incident.Status == models.StatusFailed {
		s.audit(c, "report.read", "incident", incident.ID.String(), map[string]any{"status": "failed"})
		if c.IsAborted() {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "failed",
			"reason":  incident.LastError,
			"message": "LLM unavailable or not configured",
		})
		return
	}

	report, err := s.store.GetTriageReport(c.Request.Context(), incident.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not available yet"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	s.audit(c, "report.read", "triage_report", report.ID.String(), nil)
	if c.IsAborted() {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":            report,
		"incident_status":   incident.Status,
		"decision_required": incident.Status == models.StatusAwaitingHumanReview,
	})
}
