package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/iats/pkg/api"
	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/ingest"
	"github.com/incidentops/iats/pkg/models"
	"github.com/incidentops/iats/pkg/store"
	"github.com/incidentops/iats/test/util"
)

const adminToken = "test-token"

type apiFixture struct {
	router *gin.Engine
	store  *store.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := util.SetupTestClient(t)
	st := store.New(client.DB())

	registryPath := filepath.Join(t.TempDir(), "service_registry.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(`
alarms:
  high-error-rate:
    service: checkout-api
    env: prod
    owners: ["team-payments@example.com"]
    runbook_url: https://runbooks.example.com/checkout
    dashboard_url: https://dash.example.com/checkout
services:
  checkout-api:
    service: checkout-api
    env: prod
    owners: ["team-payments@example.com"]
    runbook_url: https://runbooks.example.com/checkout
    dashboard_url: https://dash.example.com/checkout
`), 0o644))
	registry, err := config.LoadServiceRegistry(registryPath)
	require.NoError(t, err)

	settings := &config.Settings{
		AuthEnabled:                    true,
		AuthSharedToken:                adminToken,
		DeployCorrelationWindowMinutes: 90,
		DataRetentionDays:              30,
	}
	ingestSvc := ingest.NewService(st, registry, settings)
	server := api.NewServer(settings, client, st, registry, ingestSvc)

	return &apiFixture{router: server.Router(), store: st}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func scopedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	b, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (f *apiFixture) seedIncident(t *testing.T, status models.IncidentStatus) *models.Incident {
	t.Helper()
	ctx := context.Background()

	alertID, err := f.store.CreateAlertEvent(ctx, &models.AlertEvent{
		Source:     "cloudwatch",
		ExternalID: "evt-" + uuid.NewString()[:8],
		Title:      "CloudWatch Alarm: high-error-rate",
		Severity:   "critical",
		State:      "ALARM",
		FiredAt:    time.Now().UTC(),
		Labels:     map[string]string{"alarm_name": "high-error-rate"},
	})
	require.NoError(t, err)

	inc, err := f.store.UpsertIncident(ctx, "dedup-"+uuid.NewString()[:8], "checkout-api", "prod", alertID, "")
	require.NoError(t, err)
	if status != models.StatusOpen {
		require.NoError(t, f.store.SetIncidentStatus(ctx, inc.ID, status, ""))
		inc.Status = status
	}
	return inc
}

func cloudWatchBody() map[string]any {
	return map[string]any{
		"id":   "evt-1",
		"time": "2026-08-20T10:00:00Z",
		"detail": map[string]any{
			"alarmName": "high-error-rate",
			"state": map[string]any{
				"value":     "ALARM",
				"timestamp": "2026-08-20T10:01:30Z",
			},
		},
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/incidents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/v1/incidents", "not-a-valid-token!", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestIngestAndListIncidents(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/alerts/cloudwatch", adminToken, cloudWatchBody())
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.NotEmpty(t, resp["incident_id"])
	assert.Equal(t, "open", resp["status"])

	w = f.do(t, http.MethodGet, "/v1/incidents", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/alerts/cloudwatch", adminToken, map[string]any{"id": "evt-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIngestRequiresPermission(t *testing.T) {
	f := newAPIFixture(t)
	viewer := scopedToken(t, map[string]any{"sub": "viewer", "role": "viewer"})

	w := f.do(t, http.MethodPost, "/v1/alerts/cloudwatch", viewer, cloudWatchBody())
	assert.Equal(t, http.StatusForbidden, w.Code)

	ingester := scopedToken(t, map[string]any{"sub": "collector", "role": "viewer", "can_ingest": true})
	w = f.do(t, http.MethodPost, "/v1/alerts/cloudwatch", ingester, cloudWatchBody())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServiceACL(t *testing.T) {
	f := newAPIFixture(t)
	inc := f.seedIncident(t, models.StatusOpen)

	outsider := scopedToken(t, map[string]any{
		"sub": "outsider", "role": "responder", "services": []string{"payments-api"},
	})
	w := f.do(t, http.MethodGet, "/v1/incidents/"+inc.ID.String(), outsider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The list endpoint silently filters instead of failing.
	w = f.do(t, http.MethodGet, "/v1/incidents", outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])

	scoped := scopedToken(t, map[string]any{
		"sub": "oncall", "role": "responder", "services": []string{"checkout-api"},
	})
	w = f.do(t, http.MethodGet, "/v1/incidents/"+inc.ID.String(), scoped, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetIncidentIncludesOwnership(t *testing.T) {
	f := newAPIFixture(t)
	inc := f.seedIncident(t, models.StatusOpen)

	w := f.do(t, http.MethodGet, "/v1/incidents/"+inc.ID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, []any{"team-payments@example.com"}, body["owners"])
	assert.Equal(t, "https://runbooks.example.com/checkout", body["runbook_url"])
	assert.Equal(t, "https://dash.example.com/checkout", body["dashboard_url"])
}

func TestGetIncidentNotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/incidents/"+uuid.NewString(), adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/incidents/not-a-uuid", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReportStates(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	// No report yet.
	pending := f.seedIncident(t, models.StatusTriaging)
	w := f.do(t, http.MethodGet, "/v1/incidents/"+pending.ID.String()+"/report", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "report not available yet", decodeBody(t, w)["error"])

	// Failed incident reports the failure with a 200.
	failed := f.seedIncident(t, models.StatusOpen)
	require.NoError(t, f.store.SetIncidentStatus(ctx, failed.ID, models.StatusFailed, "llm configuration error"))
	w = f.do(t, http.MethodGet, "/v1/incidents/"+failed.ID.String()+"/report", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "llm configuration error", body["reason"])
	assert.Equal(t, "LLM unavailable or not configured", body["message"])

	// A stored report comes back with the decision flag.
	reviewed := f.seedIncident(t, models.StatusAwaitingHumanReview)
	_, err := f.store.StoreTriageReport(ctx, reviewed.ID, "stub-model",
		&models.ReportPayload{Summary: "provider timeout", Mode: models.ModeNormal})
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/v1/incidents/"+reviewed.ID.String()+"/report", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "awaiting_human_review", body["incident_status"])
	assert.Equal(t, true, body["decision_required"])
}

func TestDecisionFlow(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	inc := f.seedIncident(t, models.StatusAwaitingHumanReview)

	w := f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/decision", adminToken,
		map[string]any{"decision": "escalate"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/decision", adminToken,
		map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "triaged", decodeBody(t, w)["status"])

	// Already decided: a second verdict conflicts.
	w = f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/decision", adminToken,
		map[string]any{"decision": "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)

	rejected := f.seedIncident(t, models.StatusAwaitingHumanReview)
	w = f.do(t, http.MethodPost, "/v1/incidents/"+rejected.ID.String()+"/decision", adminToken,
		map[string]any{"decision": "reject", "notes": "wrong root cause"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "open", decodeBody(t, w)["status"])

	got, err := f.store.GetIncident(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, "wrong root cause", got.LastError)
}

func TestDecisionConcurrentApprovalsSerialize(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	inc := f.seedIncident(t, models.StatusAwaitingHumanReview)

	const attempts = 4
	codes := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/decision", adminToken,
				map[string]any{"decision": "approve"})
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	// Exactly one approval wins the row lock; the rest see triaged and
	// conflict.
	accepted := 0
	for code := range codes {
		if code == http.StatusOK {
			accepted++
		} else {
			assert.Equal(t, http.StatusConflict, code)
		}
	}
	assert.Equal(t, 1, accepted)

	got, err := f.store.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTriaged, got.Status)

	counts, err := f.store.CountReviewDecisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["approve"])
}

func TestStatusTransitions(t *testing.T) {
	f := newAPIFixture(t)

	inc := f.seedIncident(t, models.StatusTriaged)

	w := f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/status", adminToken,
		map[string]any{"status": "open"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	open := f.seedIncident(t, models.StatusOpen)
	w = f.do(t, http.MethodPost, "/v1/incidents/"+open.ID.String()+"/status", adminToken,
		map[string]any{"status": "resolved"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "illegal transition")

	w = f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/status", adminToken,
		map[string]any{"status": "mitigated"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mitigated", decodeBody(t, w)["status"])

	w = f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/status", adminToken,
		map[string]any{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFeedbackRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	inc := f.seedIncident(t, models.StatusTriaged)

	w := f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/feedback", adminToken,
		map[string]any{"helpful": true, "correct": false, "notes": "close but wrong service"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/incidents/"+inc.ID.String()+"/feedback", adminToken,
		map[string]any{"notes": "missing helpful flag"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodGet, "/v1/incidents/"+inc.ID.String()+"/feedback", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])
}

func TestChangeIngestEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/changes/deployments", adminToken, map[string]any{
		"service": "checkout-api", "env": "prod",
		"deployed_at": "2026-08-20T09:30:00Z", "version": "1.4.2", "git_sha": "abc123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["id"])

	w = f.do(t, http.MethodPost, "/v1/changes/deployments", adminToken, map[string]any{
		"service": "checkout-api",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/v1/changes/config", adminToken, map[string]any{
		"service": "checkout-api", "env": "prod",
		"changed_at": "2026-08-20T09:45:00Z", "actor": "ops",
		"diff": map[string]any{"timeout_ms": 500},
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestQualityMetrics(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	inc := f.seedIncident(t, models.StatusResolved)
	_, err := f.store.CreateReviewDecision(ctx, inc.ID, "approve", "")
	require.NoError(t, err)
	_, err = f.store.CreateReviewDecision(ctx, inc.ID, "approve", "")
	require.NoError(t, err)
	_, err = f.store.CreateReviewDecision(ctx, inc.ID, "reject", "")
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/metrics/quality", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)

	counts := body["status_counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["resolved"])
	assert.InDelta(t, 0.667, body["review_acceptance_rate"].(float64), 1e-9)
}

func TestRuntimeMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	inc := f.seedIncident(t, models.StatusOpen)
	require.NoError(t, f.store.CreatePipelineRun(ctx, &models.PipelineRun{
		IncidentID: &inc.ID, Stage: "triage", Status: models.RunStatusSuccess, DurationMS: 900,
	}))

	w := f.do(t, http.MethodGet, "/v1/metrics/runtime", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["pipeline_runs"])
	runs := body["recent_runs"].([]any)
	require.Len(t, runs, 1)
	entry := runs[0].(map[string]any)
	assert.Equal(t, "triage", entry["stage"])
	assert.Equal(t, inc.ID.String(), entry["incident_id"])
}

func TestPurgeIsAdminOnly(t *testing.T) {
	f := newAPIFixture(t)

	responder := scopedToken(t, map[string]any{"sub": "oncall", "role": "responder"})
	w := f.do(t, http.MethodPost, "/v1/admin/purge?days=30", responder, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/v1/admin/purge?days=0", adminToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/v1/admin/purge?days=30", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "incident_deleted")
}
