package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/incidentops/iats/pkg/models"
	"github.com/incidentops/iats/pkg/store"
)

// decisionRequest is the POST /v1/incidents/{id}/decision body.
type decisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// PostDecision handles the human review verdict: approve moves the incident
// to triaged, reject back to open with the notes recorded as last_error.
func (s *Server) PostDecision(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if req.Decision != "approve" && req.Decision != "reject" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "decision must be approve or reject"})
		return
	}

	target := models.StatusTriaged
	lastError := ""
	if req.Decision == "reject" {
		target = models.StatusOpen
		lastError = req.Notes
	}

	// The status check runs under the row lock so two racing decisions
	// serialize and the loser conflicts.
	var decision *models.ReviewDecision
	err := s.store.WithTx(c.Request.Context(), func(tx *store.Store) error {
		current, err := tx.GetIncidentForUpdate(c.Request.Context(), incident.ID)
		if err != nil {
			return err
		}
		if current.Status != models.StatusAwaitingHumanReview {
			return &stateConflictError{msg: "incident is not awaiting human review"}
		}
		decision, err = tx.CreateReviewDecision(c.Request.Context(), incident.ID, req.Decision, req.Notes)
		if err != nil {
			return err
		}
		if err := tx.SetIncidentStatus(c.Request.Context(), incident.ID, target, lastError); err != nil {
			return err
		}
		return tx.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			Actor:        principal(c).Subject,
			Action:       "report.decision",
			ResourceType: "incident",
			ResourceID:   incident.ID.String(),
			Details:      map[string]any{"decision": req.Decision, "new_status": target},
		})
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": decision, "status": target})
}

// statusRequest is the POST /v1/incidents/{id}/status body.
type statusRequest struct {
	Status models.IncidentStatus `json:"status" binding:"required"`
}

// PostStatus applies a human-driven lifecycle update. Anything outside the
// transition graph is a 409 and leaves the incident untouched.
func (s *Server) PostStatus(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	switch req.Status {
	case models.StatusMitigated, models.StatusResolved, models.StatusPostmortemRequired:
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "status must be mitigated, resolved, or postmortem_required"})
		return
	}

	err := s.store.WithTx(c.Request.Context(), func(tx *store.Store) error {
		current, err := tx.GetIncidentForUpdate(c.Request.Context(), incident.ID)
		if err != nil {
			return err
		}
		if !models.CanTransitionTo(current.Status, req.Status) {
			return &stateConflictError{
				msg: "illegal transition from " + string(current.Status) + " to " + string(req.Status),
			}
		}
		if err := tx.SetIncidentStatus(c.Request.Context(), incident.ID, req.Status, ""); err != nil {
			return err
		}
		return tx.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			Actor:        principal(c).Subject,
			Action:       "incident.status.update",
			ResourceType: "incident",
			ResourceID:   incident.ID.String(),
			Details:      map[string]any{"from": current.Status, "to": req.Status},
		})
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": incident.ID, "status": req.Status})
}

// feedbackRequest is the POST /v1/incidents/{id}/feedback body.
type feedbackRequest struct {
	Helpful  *bool  `json:"helpful" binding:"required"`
	Correct  *bool  `json:"correct"`
	FinalRCA string `json:"final_rca"`
	Notes    string `json:"notes"`
}

// PostFeedback handles reviewer feedback on a triage report.
func (s *Server) PostFeedback(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	feedback := &models.IncidentFeedback{
		IncidentID: incident.ID,
		Helpful:    *req.Helpful,
		Correct:    req.Correct,
		FinalRCA:   req.FinalRCA,
		Notes:      req.Notes,
	}
	err := s.store.WithTx(c.Request.Context(), func(tx *store.Store) error {
		if err := tx.CreateFeedback(c.Request.Context(), feedback); err != nil {
			return err
		}
		return tx.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			Actor:        principal(c).Subject,
			Action:       "incident.feedback",
			ResourceType: "incident",
			ResourceID:   incident.ID.String(),
			Details:      map[string]any{"helpful": feedback.Helpful},
		})
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, feedback)
}

// ListFeedback handles GET /v1/incidents/{id}/feedback.
func (s *Server) ListFeedback(c *gin.Context) {
	incident := s.loadIncident(c)
	if incident == nil {
		return
	}

	items, err := s.store.ListFeedback(c.Request.Context(), incident.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "incident.feedback.read", "incident", incident.ID.String(), nil)
	if c.IsAborted() {
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": items, "count": len(items)})
}
