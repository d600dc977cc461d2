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

// StoreEvidencePack appends a new evidence pack for the incident.
func (s *Store) StoreEvidencePack(ctx context.Context, incidentID uuid.UUID, windowStart, windowEnd time.Time, artifacts []map[string]any, provenance map[string]any) (*models.EvidencePack, error) {
	pack := &models.EvidencePack{
		IncidentID:      incidentID,
		TimeWindowStart: windowStart,
		TimeWindowEnd:   windowEnd,
		Artifacts:       artifacts,
		Provenance:      provenance,
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO evidence_packs (incident_id, time_window_start, time_window_end, artifacts, provenance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		incidentID, windowStart, windowEnd, mustJSON(artifacts), mustJSON(provenance),
	).Scan(&pack.ID, &pack.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store evidence pack: %w", err)
	}
	return pack, nil
}

// GetLatestEvidencePack returns the incident's current pack, or ErrNotFound.
func (s *Store) GetLatestEvidencePack(ctx context.Context, incidentID uuid.UUID) (*models.EvidencePack, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, incident_id, time_window_start, time_window_end, artifacts, provenance, created_at
		FROM evidence_packs
		WHERE incident_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, incidentID)

	var (
		pack                  models.EvidencePack
		artifacts, provenance []byte
	)
	err := row.Scan(&pack.ID, &pack.IncidentID, &pack.TimeWindowStart, &pack.TimeWindowEnd,
		&artifacts, &provenance, &pack.CreatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest evidence pack: %w", err)
	}
	if pack.Artifacts, err = unmarshalJSON[[]map[string]any](artifacts); err != nil {
		return nil, err
	}
	if pack.Provenance, err = unmarshalJSON[map[string]any](provenance); err != nil {
		return nil, err
	}
	return &pack, nil
}
