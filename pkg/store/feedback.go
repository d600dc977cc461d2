package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/models"
)

// CreateFeedback appends reviewer feedback for an incident.
func (s *Store) CreateFeedback(ctx context.Context, f *models.IncidentFeedback) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO incident_feedback (incident_id, helpful, correct, final_rca, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		f.IncidentID, f.Helpful, f.Correct, strOrNil(f.FinalRCA), strOrNil(f.Notes),
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// ListFeedback returns all feedback for an incident, newest first.
func (s *Store) ListFeedback(ctx context.Context, incidentID uuid.UUID) ([]*models.IncidentFeedback, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, incident_id, helpful, correct, COALESCE(final_rca, ''), COALESCE(notes, ''), created_at
		FROM incident_feedback
		WHERE incident_id = $1
		ORDER BY created_at DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []*models.IncidentFeedback
	for rows.Next() {
		var f models.IncidentFeedback
		if err := rows.Scan(&f.ID, &f.IncidentID, &f.Helpful, &f.Correct, &f.FinalRCA, &f.Notes, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
