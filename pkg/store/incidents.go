package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/models"
)

// CreateAlertEvent persists a normalized alert event and returns its id.
func (s *Store) CreateAlertEvent(ctx context.Context, e *models.AlertEvent) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO alert_events
			(source, external_id, title, severity, state, correlation_id,
			 fired_at, ended_at, labels, annotations, resource_refs, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		e.Source, e.ExternalID, e.Title, e.Severity, e.State, strOrNil(e.CorrelationID),
		e.FiredAt, e.EndedAt, mustJSON(e.Labels), mustJSON(e.Annotations),
		mustJSON(e.ResourceRefs), mustJSON(e.RawPayload),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create alert event: %w", err)
	}
	return id, nil
}

// GetAlertEvent loads one alert event by id.
func (s *Store) GetAlertEvent(ctx context.Context, id uuid.UUID) (*models.AlertEvent, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, source, external_id, title, severity, state,
		       COALESCE(correlation_id, ''), fired_at, ended_at,
		       labels, annotations, resource_refs, raw_payload, created_at
		FROM alert_events WHERE id = $1`, id)

	var (
		e                              models.AlertEvent
		labels, annotations, refs, raw []byte
	)
	err := row.Scan(&e.ID, &e.Source, &e.ExternalID, &e.Title, &e.Severity, &e.State,
		&e.CorrelationID, &e.FiredAt, &e.EndedAt, &labels, &annotations, &refs, &raw, &e.CreatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert event: %w", err)
	}
	if e.Labels, err = unmarshalJSON[map[string]string](labels); err != nil {
		return nil, err
	}
	if e.Annotations, err = unmarshalJSON[map[string]string](annotations); err != nil {
		return nil, err
	}
	if e.ResourceRefs, err = unmarshalJSON[map[string]string](refs); err != nil {
		return nil, err
	}
	if e.RawPayload, err = unmarshalJSON[map[string]any](raw); err != nil {
		return nil, err
	}
	return &e, nil
}

const incidentColumns = `
	id, dedup_key, service, env,
	COALESCE(service_version, ''), COALESCE(git_sha, ''), COALESCE(correlation_id, ''),
	status, latest_alert_event_id, COALESCE(last_error, ''), created_at, updated_at`

func scanIncident(row interface{ Scan(...any) error }) (*models.Incident, error) {
	var (
		inc     models.Incident
		eventID uuid.NullUUID
	)
	err := row.Scan(&inc.ID, &inc.DedupKey, &inc.Service, &inc.Env,
		&inc.ServiceVersion, &inc.GitSHA, &inc.CorrelationID,
		&inc.Status, &eventID, &inc.LastError, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inc.LatestAlertEventID = eventID.UUID
	return &inc, nil
}

// UpsertIncident maps an alert event onto its incident by dedup key. An
// existing incident gets the new latest event, keeps its correlation id
// unless it was empty, and reopens to open (clearing last_error) from any
// settled state. The dedup_key row is locked for the rest of the
// transaction so concurrent ingests of the same key serialize.
func (s *Store) UpsertIncident(ctx context.Context, dedupKey, service, env string, alertEventID uuid.UUID, correlationID string) (*models.Incident, error) {
	existing, err := scanIncident(s.q.QueryRowContext(ctx,
		`SELECT`+incidentColumns+` FROM incidents WHERE dedup_key = $1 FOR UPDATE`, dedupKey))
	if err != nil && !errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("lookup incident by dedup key: %w", err)
	}

	if errors.Is(err, stdsql.ErrNoRows) {
		inc, err := scanIncident(s.q.QueryRowContext(ctx, `
			INSERT INTO incidents (dedup_key, service, env, correlation_id, status, latest_alert_event_id)
			VALUES ($1, $2, $3, $4, 'open', $5)
			RETURNING`+incidentColumns,
			dedupKey, service, env, strOrNil(correlationID), alertEventID))
		if err != nil {
			return nil, fmt.Errorf("insert incident: %w", err)
		}
		return inc, nil
	}

	newCorrelation := existing.CorrelationID
	if newCorrelation == "" {
		newCorrelation = correlationID
	}
	newStatus := existing.Status
	clearError := false
	if models.ReopenableStatuses[existing.Status] {
		newStatus = models.StatusOpen
		clearError = true
	}

	query := `
		UPDATE incidents
		SET latest_alert_event_id = $2, correlation_id = $3, status = $4,
		    last_error = CASE WHEN $5 THEN NULL ELSE last_error END,
		    updated_at = now()
		WHERE id = $1
		RETURNING` + incidentColumns
	inc, err := scanIncident(s.q.QueryRowContext(ctx, query,
		existing.ID, alertEventID, strOrNil(newCorrelation), newStatus, clearError))
	if err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	return inc, nil
}

// AttachIncidentVersion fills in deploy metadata without ever overwriting an
// existing value with empty.
func (s *Store) AttachIncidentVersion(ctx context.Context, incidentID uuid.UUID, version, gitSHA string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE incidents
		SET service_version = COALESCE(NULLIF($2, ''), service_version),
		    git_sha = COALESCE(NULLIF($3, ''), git_sha),
		    updated_at = now()
		WHERE id = $1`,
		incidentID, version, gitSHA)
	if err != nil {
		return fmt.Errorf("attach incident version: %w", err)
	}
	return nil
}

// GetIncident loads one incident by id.
func (s *Store) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := scanIncident(s.q.QueryRowContext(ctx,
		`SELECT`+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// GetIncidentForUpdate loads an incident and holds its row lock for the rest
// of the transaction, so a status check stays valid until commit.
func (s *Store) GetIncidentForUpdate(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := scanIncident(s.q.QueryRowContext(ctx,
		`SELECT`+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident for update: %w", err)
	}
	return inc, nil
}

// ListIncidents returns all incidents newest-updated first.
func (s *Store) ListIncidents(ctx context.Context) ([]*models.Incident, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT`+incidentColumns+` FROM incidents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// SetIncidentStatus transitions the incident and records or clears
// last_error.
func (s *Store) SetIncidentStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus, lastError string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE incidents SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, status, strOrNil(lastError))
	if err != nil {
		return fmt.Errorf("set incident status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AvgLifecycleSeconds returns the mean age of settled incidents, used by the
// quality metrics endpoint.
func (s *Store) AvgLifecycleSeconds(ctx context.Context, settled []models.IncidentStatus) (float64, error) {
	if len(settled) == 0 {
		return 0, nil
	}
	statuses := make([]string, len(settled))
	for i, st := range settled {
		statuses[i] = string(st)
	}
	var avg stdsql.NullFloat64
	err := s.q.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (updated_at - created_at)))
		FROM incidents WHERE status = ANY($1)`, statuses).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg lifecycle: %w", err)
	}
	return avg.Float64, nil
}

// StatusCounts groups incidents by status.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
