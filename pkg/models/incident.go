// Package models defines the domain types shared across the triage pipeline,
// storage layer, and HTTP API.
package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is the incident lifecycle status.
type IncidentStatus string

// Incident lifecycle states.
const (
	StatusOpen                IncidentStatus = "open"
	StatusTriaging            IncidentStatus = "triaging"
	StatusAwaitingHumanReview IncidentStatus = "awaiting_human_review"
	StatusTriaged             IncidentStatus = "triaged"
	StatusMitigated           IncidentStatus = "mitigated"
	StatusResolved            IncidentStatus = "resolved"
	StatusPostmortemRequired  IncidentStatus = "postmortem_required"
	StatusFailed              IncidentStatus = "failed"
)

// ReopenableStatuses are the states a new alert on the same dedup key
// reopens back to "open".
var ReopenableStatuses = map[IncidentStatus]bool{
	StatusFailed:              true,
	StatusAwaitingHumanReview: true,
	StatusTriaged:             true,
	StatusMitigated:           true,
	StatusResolved:            true,
	StatusPostmortemRequired:  true,
}

// statusUpdateAllowedFrom maps each human-driven status update to the set of
// states it may be applied from.
var statusUpdateAllowedFrom = map[IncidentStatus]map[IncidentStatus]bool{
	StatusMitigated:          {StatusTriaged: true},
	StatusResolved:           {StatusTriaged: true, StatusMitigated: true},
	StatusPostmortemRequired: {StatusTriaged: true, StatusMitigated: true, StatusResolved: true},
}

// CanTransitionTo reports whether a human-driven status update from "from"
// to "to" is permitted by the lifecycle graph.
func CanTransitionTo(from, to IncidentStatus) bool {
	allowed, ok := statusUpdateAllowedFrom[to]
	if !ok {
		return false
	}
	return allowed[from]
}

// Incident is the unit of triage. One incident aggregates many alert events
// through its dedup key.
type Incident struct {
	ID                 uuid.UUID      `json:"id"`
	DedupKey           string         `json:"dedup_key"`
	Service            string         `json:"service"`
	Env                string         `json:"env"`
	ServiceVersion     string         `json:"service_version,omitempty"`
	GitSHA             string         `json:"git_sha,omitempty"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
	Status             IncidentStatus `json:"status"`
	LatestAlertEventID uuid.UUID      `json:"latest_alert_event_id,omitempty"`
	LastError          string         `json:"last_error,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// AlertEvent is the canonical, immutable record of one normalized alert.
type AlertEvent struct {
	ID            uuid.UUID         `json:"id"`
	Source        string            `json:"source"` // "cloudwatch" or "alertmanager"
	ExternalID    string            `json:"external_id"`
	Title         string            `json:"title"`
	Severity      string            `json:"severity"`
	State         string            `json:"state"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	FiredAt       time.Time         `json:"fired_at"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Labels        map[string]string `json:"labels"`
	Annotations   map[string]string `json:"annotations"`
	ResourceRefs  map[string]string `json:"resource_refs"`
	RawPayload    map[string]any    `json:"raw_payload"`
	CreatedAt     time.Time         `json:"created_at"`
}

// EvidencePack is one append-only bundle of tagged artifacts with provenance.
// The most recent pack by created_at is the incident's current evidence.
type EvidencePack struct {
	ID              uuid.UUID        `json:"id"`
	IncidentID      uuid.UUID        `json:"incident_id"`
	TimeWindowStart time.Time        `json:"time_window_start"`
	TimeWindowEnd   time.Time        `json:"time_window_end"`
	Artifacts       []map[string]any `json:"artifacts"`
	Provenance      map[string]any   `json:"provenance"`
	CreatedAt       time.Time        `json:"created_at"`
}

// TriageReport is the stored, validated LLM output for one incident.
// Unique on incident_id; overwritten on re-run.
type TriageReport struct {
	ID          uuid.UUID      `json:"id"`
	IncidentID  uuid.UUID      `json:"incident_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Model       string         `json:"model"`
	Payload     *ReportPayload `json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ReviewDecision records one approve/reject by a human reviewer.
type ReviewDecision struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
	Decision   string    `json:"decision"` // "approve" or "reject"
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeploymentEvent is a time-indexed deploy record used for change correlation.
type DeploymentEvent struct {
	ID         uuid.UUID      `json:"id"`
	Service    string         `json:"service"`
	Env        string         `json:"env"`
	DeployedAt time.Time      `json:"deployed_at"`
	Version    string         `json:"version,omitempty"`
	GitSHA     string         `json:"git_sha,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ConfigChange is a time-indexed configuration change record.
type ConfigChange struct {
	ID        uuid.UUID      `json:"id"`
	Service   string         `json:"service"`
	Env       string         `json:"env"`
	ChangedAt time.Time      `json:"changed_at"`
	Actor     string         `json:"actor,omitempty"`
	Diff      map[string]any `json:"diff"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// IncidentFeedback is post-hoc reviewer feedback on a triage report.
type IncidentFeedback struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
	Helpful    bool      `json:"helpful"`
	Correct    *bool     `json:"correct,omitempty"`
	FinalRCA   string    `json:"final_rca,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLog documents one mutating or read action, committed in the same
// transaction as the action itself.
type AuditLog struct {
	ID           uuid.UUID      `json:"id"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PipelineRun records one pipeline stage execution with telemetry.
type PipelineRun struct {
	ID         uuid.UUID      `json:"id"`
	IncidentID *uuid.UUID     `json:"incident_id,omitempty"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"` // success, failed, skipped
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metrics    map[string]any `json:"metrics"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PipelineRun status values.
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)
