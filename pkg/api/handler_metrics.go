package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incidentops/iats/pkg/models"
	"github.com/incidentops/iats/pkg/store"
)

// settledStatuses are the states counted into average lifecycle duration.
var settledStatuses = []models.IncidentStatus{
	models.StatusResolved,
	models.StatusPostmortemRequired,
}

// QualityMetrics handles GET /v1/metrics/quality: incident status counts,
// the review acceptance rate, and the average settled lifecycle.
func (s *Server) QualityMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	decisions, err := s.store.CountReviewDecisions(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	avgLifecycle, err := s.store.AvgLifecycleSeconds(ctx, settledStatuses)
	if err != nil {
		writeError(c, err)
		return
	}

	approvals := decisions["approve"]
	rejections := decisions["reject"]
	acceptanceRate := 0.0
	if approvals+rejections > 0 {
		acceptanceRate = math.Round(float64(approvals)/float64(approvals+rejections)*1000) / 1000
	}

	c.JSON(http.StatusOK, gin.H{
		"status_counts":          counts,
		"review_decisions":       decisions,
		"review_acceptance_rate": acceptanceRate,
		"avg_lifecycle_seconds":  math.Round(avgLifecycle*100) / 100,
	})
}

// RuntimeMetrics handles GET /v1/metrics/runtime.
func (s *Server) RuntimeMetrics(c *gin.Context) {
	metrics, err := s.store.GetRuntimeMetrics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// Purge handles POST /v1/admin/purge?days=N. With no days parameter the
// configured retention window applies.
func (s *Server) Purge(c *gin.Context) {
	days := s.settings.DataRetentionDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}
	before := time.Now().AddDate(0, 0, -days)

	var result *store.PurgeResult
	err := s.store.WithTx(c.Request.Context(), func(tx *store.Store) error {
		var err error
		result, err = tx.PurgeOldData(c.Request.Context(), before)
		if err != nil {
			return err
		}
		return tx.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			Actor:        principal(c).Subject,
			Action:       "admin.purge",
			ResourceType: "retention",
			Details:      map[string]any{"days": days, "incident_deleted": result.IncidentDeleted},
		})
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
