package store

import (
	"context"
	"fmt"
	"time"
)

// PurgeResult reports how many rows each table lost.
type PurgeResult struct {
	EvidenceDeleted int64 `json:"evidence_deleted"`
	ReportDeleted   int64 `json:"report_deleted"`
	DecisionDeleted int64 `json:"decision_deleted"`
	FeedbackDeleted int64 `json:"feedback_deleted"`
	DeployDeleted   int64 `json:"deploy_deleted"`
	ConfigDeleted   int64 `json:"config_deleted"`
	IncidentDeleted int64 `json:"incident_deleted"`
}

// PurgeOldData deletes rows created (incidents: updated) before the cutoff.
// Children go first so incident deletion never trips foreign keys.
func (s *Store) PurgeOldData(ctx context.Context, before time.Time) (*PurgeResult, error) {
	var res PurgeResult
	steps := []struct {
		dst   *int64
		query string
	}{
		{&res.EvidenceDeleted, `DELETE FROM evidence_packs WHERE created_at < $1`},
		{&res.ReportDeleted, `DELETE FROM triage_reports WHERE created_at < $1`},
		{&res.DecisionDeleted, `DELETE FROM review_decisions WHERE created_at < $1`},
		{&res.FeedbackDeleted, `DELETE FROM incident_feedback WHERE created_at < $1`},
		{&res.DeployDeleted, `DELETE FROM deployment_events WHERE created_at < $1`},
		{&res.ConfigDeleted, `DELETE FROM config_changes WHERE created_at < $1`},
		{&res.IncidentDeleted, `DELETE FROM incidents WHERE updated_at < $1`},
	}
	for _, step := range steps {
		r, err := s.q.ExecContext(ctx, step.query, before)
		if err != nil {
			return nil, fmt.Errorf("purge: %w", err)
		}
		n, _ := r.RowsAffected()
		*step.dst = n
	}
	return &res, nil
}
