// Package ingest orchestrates alert intake: normalize, resolve, dedup,
// upsert, deploy correlation, and triage enqueue, all in one transaction.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/hashing"
	"github.com/incidentops/iats/pkg/models"
	"github.com/incidentops/iats/pkg/normalize"
	"github.com/incidentops/iats/pkg/store"
)

// Response is the ingest endpoint reply.
type Response struct {
	IncidentID uuid.UUID             `json:"incident_id"`
	DedupKey   string                `json:"dedup_key"`
	Status     models.IncidentStatus `json:"status"`
}

// Service runs the ingestion pipeline.
type Service struct {
	store    *store.Store
	registry *config.ServiceRegistry
	settings *config.Settings
}

// NewService wires the ingestion orchestrator.
func NewService(st *store.Store, registry *config.ServiceRegistry, settings *config.Settings) *Service {
	return &Service{store: st, registry: registry, settings: settings}
}

// IngestCloudWatch normalizes and ingests a CloudWatch alarm envelope.
func (s *Service) IngestCloudWatch(ctx context.Context, payload map[string]any, actor string) (*Response, error) {
	event, err := normalize.CloudWatch(payload)
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, event, actor)
}

// IngestAlertmanager normalizes and ingests an Alertmanager webhook.
func (s *Service) IngestAlertmanager(ctx context.Context, payload map[string]any, actor string) (*Response, error) {
	event, err := normalize.Alertmanager(payload, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, event, actor)
}

// ingest persists the event, upserts the incident by dedup key, attaches
// the most recent in-window deploy, and enqueues triage. All writes commit
// together; the triage task rides the same transaction so an enqueue
// without its incident can never be observed.
func (s *Service) ingest(ctx context.Context, event *models.AlertEvent, actor string) (*Response, error) {
	lookupKey := normalize.ResolverKey(event)
	resolved := s.registry.Resolve(lookupKey)
	dedupKey := hashing.DedupKey(resolved.Service, resolved.Env, lookupKey, event.CorrelationID, event.Labels)

	var resp *Response
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		eventID, err := tx.CreateAlertEvent(ctx, event)
		if err != nil {
			return err
		}

		incident, err := tx.UpsertIncident(ctx, dedupKey, resolved.Service, resolved.Env, eventID, event.CorrelationID)
		if err != nil {
			return err
		}

		since := event.FiredAt.Add(-s.settings.DeployCorrelationWindow())
		deploys, err := tx.ListRecentDeployments(ctx, resolved.Service, resolved.Env, since, event.FiredAt)
		if err != nil {
			return err
		}
		if len(deploys) > 0 {
			latest := deploys[0]
			if err := tx.AttachIncidentVersion(ctx, incident.ID, latest.Version, latest.GitSHA); err != nil {
				return err
			}
		}

		if _, err := tx.EnqueueTriageTask(ctx, incident.ID); err != nil {
			return err
		}

		if err := tx.CreateAuditLog(ctx, &models.AuditLog{
			Actor:        actor,
			Action:       "alert.ingest",
			ResourceType: "incident",
			ResourceID:   incident.ID.String(),
			Details: map[string]any{
				"source":      event.Source,
				"external_id": event.ExternalID,
				"dedup_key":   dedupKey,
			},
		}); err != nil {
			return err
		}

		resp = &Response{IncidentID: incident.ID, DedupKey: dedupKey, Status: incident.Status}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %s alert: %w", event.Source, err)
	}

	slog.Info("alert ingested",
		"source", event.Source,
		"service", resolved.Service,
		"env", resolved.Env,
		"incident_id", resp.IncidentID,
		"status", resp.Status)
	return resp, nil
}
