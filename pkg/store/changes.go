package store

import (
	"context"
	"fmt"
	"time"

	"github.com/incidentops/iats/pkg/models"
)

// CreateDeploymentEvent records a deploy for timeline correlation.
func (s *Store) CreateDeploymentEvent(ctx context.Context, d *models.DeploymentEvent) error {
	if d.Source == "" {
		d.Source = "api"
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO deployment_events (service, env, deployed_at, version, git_sha, actor, source, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		d.Service, d.Env, d.DeployedAt, strOrNil(d.Version), strOrNil(d.GitSHA),
		strOrNil(d.Actor), d.Source, mustJSON(d.Metadata),
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create deployment event: %w", err)
	}
	return nil
}

// ListRecentDeployments returns deploys for (service, env) within
// [since, until], newest first.
func (s *Store) ListRecentDeployments(ctx context.Context, service, env string, since, until time.Time) ([]*models.DeploymentEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, service, env, deployed_at, COALESCE(version, ''), COALESCE(git_sha, ''),
		       COALESCE(actor, ''), source, metadata, created_at
		FROM deployment_events
		WHERE service = $1 AND env = $2 AND deployed_at >= $3 AND deployed_at <= $4
		ORDER BY deployed_at DESC`,
		service, env, since, until)
	if err != nil {
		return nil, fmt.Errorf("list recent deployments: %w", err)
	}
	defer rows.Close()

	var out []*models.DeploymentEvent
	for rows.Next() {
		var (
			d    models.DeploymentEvent
			meta []byte
		)
		if err := rows.Scan(&d.ID, &d.Service, &d.Env, &d.DeployedAt, &d.Version, &d.GitSHA,
			&d.Actor, &d.Source, &meta, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.Metadata, err = unmarshalJSON[map[string]any](meta); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CreateConfigChange records a configuration change.
func (s *Store) CreateConfigChange(ctx context.Context, c *models.ConfigChange) error {
	if c.Source == "" {
		c.Source = "api"
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO config_changes (service, env, changed_at, actor, diff, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		c.Service, c.Env, c.ChangedAt, strOrNil(c.Actor), mustJSON(c.Diff), c.Source,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create config change: %w", err)
	}
	return nil
}

// ListRecentConfigChanges returns config changes for (service, env) within
// [since, until], newest first.
func (s *Store) ListRecentConfigChanges(ctx context.Context, service, env string, since, until time.Time) ([]*models.ConfigChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, service, env, changed_at, COALESCE(actor, ''), diff, source, created_at
		FROM config_changes
		WHERE service = $1 AND env = $2 AND changed_at >= $3 AND changed_at <= $4
		ORDER BY changed_at DESC`,
		service, env, since, until)
	if err != nil {
		return nil, fmt.Errorf("list recent config changes: %w", err)
	}
	defer rows.Close()

	var out []*models.ConfigChange
	for rows.Next() {
		var (
			c    models.ConfigChange
			diff []byte
		)
		if err := rows.Scan(&c.ID, &c.Service, &c.Env, &c.ChangedAt, &c.Actor, &diff, &c.Source, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.Diff, err = unmarshalJSON[map[string]any](diff); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
