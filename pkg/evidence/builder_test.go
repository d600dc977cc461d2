package evidence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/models"
)

type stubLogsFetcher struct {
	lines   map[string][]string // query name substring → lines
	queries []string
}

func (s *stubLogsFetcher) FetchLogs(_ context.Context, _ string, _, _ time.Time, query string) (*LogsResult, error) {
	s.queries = append(s.queries, query)
	for key, lines := range s.lines {
		if key != "" && strings.Contains(query, key) {
			return &LogsResult{QueryID: "q-" + key, Lines: lines}, nil
		}
	}
	if lines, ok := s.lines[""]; ok {
		return &LogsResult{QueryID: "q-default", Lines: lines}, nil
	}
	return &LogsResult{QueryID: "q-empty"}, nil
}

type stubSnippetFetcher struct {
	snippet *Snippet
	commits []Commit
}

func (s *stubSnippetFetcher) SnippetForFileLine(_, _ string, _ int, _ string) (*Snippet, error) {
	return s.snippet, nil
}

func (s *stubSnippetFetcher) SearchSnippets(_ string, _ []string, _ int) ([]*Snippet, error) {
	return nil, nil
}

func (s *stubSnippetFetcher) RecentCommits(_ string, _ int) ([]Commit, error) {
	return s.commits, nil
}

func builderInput(correlationID string) Input {
	firedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return Input{
		Incident: &models.Incident{ID: uuid.New(), Service: "checkout-api", Env: "prod"},
		Alert: &models.AlertEvent{
			ID:            uuid.New(),
			Source:        "cloudwatch",
			Title:         "CloudWatch Alarm: high-error-rate",
			Severity:      "critical",
			State:         "ALARM",
			CorrelationID: correlationID,
			FiredAt:       firedAt,
			Labels:        map[string]string{"alarm_name": "high-error-rate"},
			Annotations:   map[string]string{"reason": "threshold crossed"},
		},
		Entry: config.ServiceEntry{
			Service:       "checkout-api",
			Env:           "prod",
			LogGroups:     []string{"/aws/lambda/checkout-api"},
			RepoLocalPath: "/repos/checkout-api",
		},
		Deploys: []*models.DeploymentEvent{
			{DeployedAt: firedAt.Add(-30 * time.Minute), Version: "1.4.2", GitSHA: "abc123"},
		},
		ConfigChanges: []*models.ConfigChange{
			{ChangedAt: firedAt.Add(-10 * time.Minute), Actor: "ops"},
		},
	}
}

func testSettings() *config.Settings {
	return &config.Settings{
		TriageWindowMinutes:       10,
		MaxLogsQueriesPerIncident: 5,
		MaxRepoSnippets:           5,
		FixtureMode:               true,
	}
}

func emptyLibrary(t *testing.T) *config.QueryLibrary {
	t.Helper()
	lib, err := config.LoadQueryLibrary("/nonexistent/query_library.yaml")
	require.NoError(t, err)
	return lib
}

func artifactTypes(artifacts []map[string]any) []string {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a["type"].(string))
	}
	return out
}

func TestBuildAssemblesArtifacts(t *testing.T) {
	logs := &stubLogsFetcher{lines: map[string][]string{
		"": {
			"ERROR payment timeout request_id=req-1",
			"Traceback (most recent call last):",
			`  File "app.py", line 3, in create_order`,
			"RuntimeError: PaymentProviderTimeoutException",
		},
	}}
	repo := &stubSnippetFetcher{
		snippet: &Snippet{SnippetID: "snip00000001", FilePath: "app.py", StartLine: 1, EndLine: 13, Content: "def create_order():", Confidence: "high"},
		commits: []Commit{{Commit: "abc123", Author: "dev", Subject: "fix timeout"}},
	}
	b := NewBuilder(testSettings(), emptyLibrary(t), logs, repo)

	res, err := b.Build(context.Background(), builderInput(""))
	require.NoError(t, err)

	// Two default queries, one summary, one snippet, timeline, change context.
	types := artifactTypes(res.Artifacts)
	assert.Equal(t, []string{"logs_query", "logs_query", "log_summary", "repo_snippet", "timeline", "change_context"}, types)
	assert.Equal(t, 2, res.QueryArtifactCount)
	assert.Equal(t, []string{"errors", "patterns"}, res.QueryNames)
	assert.False(t, res.CorrelationMatched)

	for _, a := range res.Artifacts {
		assert.Len(t, a["artifact_id"], 12)
	}

	timeline := res.Artifacts[4]["events"].([]map[string]any)
	require.Len(t, timeline, 3)
	assert.Equal(t, "deploy", timeline[0]["type"])
	assert.Equal(t, "config", timeline[1]["type"])
	assert.Equal(t, "alert", timeline[2]["type"])
}

func TestBuildPrependsCorrelationQuery(t *testing.T) {
	logs := &stubLogsFetcher{lines: map[string][]string{
		"req-12345": {"ERROR payment timeout request_id=req-12345"},
	}}
	b := NewBuilder(testSettings(), emptyLibrary(t), logs, &stubSnippetFetcher{})

	res, err := b.Build(context.Background(), builderInput("req-12345"))
	require.NoError(t, err)

	require.NotEmpty(t, res.QueryNames)
	assert.Equal(t, "correlation", res.QueryNames[0])
	assert.Equal(t, 3, res.QueryArtifactCount)
	assert.True(t, res.CorrelationMatched)
}

func TestBuildCorrelationSurvivesQueryCap(t *testing.T) {
	settings := testSettings()
	settings.MaxLogsQueriesPerIncident = 2
	logs := &stubLogsFetcher{lines: map[string][]string{}}
	b := NewBuilder(settings, emptyLibrary(t), logs, &stubSnippetFetcher{})

	res, err := b.Build(context.Background(), builderInput("req-12345"))
	require.NoError(t, err)

	require.Len(t, res.QueryNames, 2)
	assert.Equal(t, "correlation", res.QueryNames[0])
}

func TestBuildScoresGatheredEvidence(t *testing.T) {
	logs := &stubLogsFetcher{lines: map[string][]string{
		"": {"RuntimeError: PaymentProviderTimeoutException"},
	}}
	b := NewBuilder(testSettings(), emptyLibrary(t), logs, &stubSnippetFetcher{})

	res, err := b.Build(context.Background(), builderInput(""))
	require.NoError(t, err)

	// signatures +0.30, two queries with hits +0.15, error signal +0.20,
	// fixture mode -0.10
	assert.InDelta(t, 0.55, res.Score, 1e-9)
	assert.Equal(t, LevelMedium, res.Level)
	assert.NotEmpty(t, res.ScoreReasons)
}
