package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/models"
)

// CreatePipelineRun records one pipeline stage execution.
func (s *Store) CreatePipelineRun(ctx context.Context, r *models.PipelineRun) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO pipeline_runs (incident_id, stage, status, duration_ms, error, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		r.IncidentID, r.Stage, r.Status, r.DurationMS, strOrNil(r.Error), mustJSON(r.Metrics),
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create pipeline run: %w", err)
	}
	return nil
}

// RuntimeMetrics summarizes pipeline execution: totals, failure counts, mean
// duration of non-zero runs, and the 20 most recent runs.
type RuntimeMetrics struct {
	PipelineRuns          int            `json:"pipeline_runs"`
	PipelineFailures      int            `json:"pipeline_failures"`
	LLMFailures           int            `json:"llm_failures"`
	AvgPipelineDurationMS int            `json:"avg_pipeline_duration_ms"`
	RecentRuns            []RecentRunRow `json:"recent_runs"`
}

// RecentRunRow is one entry of RuntimeMetrics.RecentRuns.
type RecentRunRow struct {
	ID         uuid.UUID      `json:"id"`
	IncidentID *uuid.UUID     `json:"incident_id"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metrics    map[string]any `json:"metrics"`
	CreatedAt  time.Time      `json:"created_at"`
}

// GetRuntimeMetrics computes the runtime metrics summary.
func (s *Store) GetRuntimeMetrics(ctx context.Context) (*RuntimeMetrics, error) {
	var m RuntimeMetrics
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE stage = 'llm' AND status = 'failed'),
		       COALESCE(AVG(duration_ms) FILTER (WHERE duration_ms > 0), 0)::bigint
		FROM pipeline_runs`,
	).Scan(&m.PipelineRuns, &m.PipelineFailures, &m.LLMFailures, &m.AvgPipelineDurationMS)
	if err != nil {
		return nil, fmt.Errorf("runtime metrics: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, incident_id, stage, status, duration_ms, COALESCE(error, ''), metrics, created_at
		FROM pipeline_runs
		ORDER BY created_at DESC
		LIMIT 20`)
	if err != nil {
		return nil, fmt.Errorf("recent pipeline runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r          RecentRunRow
			incidentID uuid.NullUUID
			metrics    []byte
		)
		if err := rows.Scan(&r.ID, &incidentID, &r.Stage, &r.Status, &r.DurationMS, &r.Error, &metrics, &r.CreatedAt); err != nil {
			return nil, err
		}
		if incidentID.Valid {
			r.IncidentID = &incidentID.UUID
		}
		if r.Metrics, err = unmarshalJSON[map[string]any](metrics); err != nil {
			return nil, err
		}
		m.RecentRuns = append(m.RecentRuns, r)
	}
	return &m, rows.Err()
}

// ListPipelineRunsForIncident returns every run recorded for one incident,
// oldest first. Used by tests and debugging.
func (s *Store) ListPipelineRunsForIncident(ctx context.Context, incidentID uuid.UUID) ([]*models.PipelineRun, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, incident_id, stage, status, duration_ms, COALESCE(error, ''), metrics, created_at
		FROM pipeline_runs
		WHERE incident_id = $1
		ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []*models.PipelineRun
	for rows.Next() {
		var (
			r          models.PipelineRun
			incidentID uuid.NullUUID
			metrics    []byte
		)
		if err := rows.Scan(&r.ID, &incidentID, &r.Stage, &r.Status, &r.DurationMS, &r.Error, &metrics, &r.CreatedAt); err != nil {
			return nil, err
		}
		if incidentID.Valid {
			r.IncidentID = &incidentID.UUID
		}
		if r.Metrics, err = unmarshalJSON[map[string]any](metrics); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
