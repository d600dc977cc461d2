package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/models"
)

// StoreTriageReport upserts the report for an incident; re-runs overwrite.
func (s *Store) StoreTriageReport(ctx context.Context, incidentID uuid.UUID, modelName string, payload *models.ReportPayload) (*models.TriageReport, error) {
	report := &models.TriageReport{
		IncidentID:  incidentID,
		Model:       modelName,
		GeneratedAt: time.Now().UTC(),
		Payload:     payload,
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO triage_reports (incident_id, generated_at, model, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (incident_id) DO UPDATE
		SET generated_at = EXCLUDED.generated_at,
		    model = EXCLUDED.model,
		    payload = EXCLUDED.payload
		RETURNING id, created_at`,
		incidentID, report.GeneratedAt, modelName, mustJSON(payload),
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store triage report: %w", err)
	}
	return report, nil
}

// GetTriageReport loads the report for an incident, or ErrNotFound.
func (s *Store) GetTriageReport(ctx context.Context, incidentID uuid.UUID) (*models.TriageReport, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, incident_id, generated_at, model, payload, created_at
		FROM triage_reports WHERE incident_id = $1`, incidentID)

	var (
		report  models.TriageReport
		payload []byte
	)
	err := row.Scan(&report.ID, &report.IncidentID, &report.GeneratedAt, &report.Model, &payload, &report.CreatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get triage report: %w", err)
	}
	p, err := unmarshalJSON[*models.ReportPayload](payload)
	if err != nil {
		return nil, err
	}
	report.Payload = p
	return &report, nil
}

// CreateReviewDecision appends one approve/reject record.
func (s *Store) CreateReviewDecision(ctx context.Context, incidentID uuid.UUID, decision, notes string) (*models.ReviewDecision, error) {
	rd := &models.ReviewDecision{IncidentID: incidentID, Decision: decision, Notes: notes}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO review_decisions (incident_id, decision, notes)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		incidentID, decision, strOrNil(notes),
	).Scan(&rd.ID, &rd.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create review decision: %w", err)
	}
	return rd, nil
}

// CountReviewDecisions tallies approve/reject totals for quality metrics.
func (s *Store) CountReviewDecisions(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM review_decisions GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("count review decisions: %w", err)
	}
	defer rows.Close()

	out := map[string]int{"approve": 0, "reject": 0}
	for rows.Next() {
		var decision string
		var count int
		if err := rows.Scan(&decision, &count); err != nil {
			return nil, err
		}
		if _, ok := out[decision]; ok {
			out[decision] = count
		}
	}
	return out, rows.Err()
}
