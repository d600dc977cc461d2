package evidence

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/hashing"
	"github.com/incidentops/iats/pkg/models"
)

// defaultQueries run when the query library has no entries for the alarm.
var defaultQueries = map[string]string{
	"errors":   "fields @timestamp, @message | filter @message like /ERROR|Exception|Traceback/ | sort @timestamp desc | limit 200",
	"patterns": "fields @message | stats count(*) as count by @message | sort count desc | limit 20",
}

// Builder gathers artifacts for one incident.
type Builder struct {
	settings *config.Settings
	queries  *config.QueryLibrary
	logs     LogsFetcher
	repo     SnippetFetcher
}

// NewBuilder wires the evidence builder to its collaborators.
func NewBuilder(settings *config.Settings, queries *config.QueryLibrary, logs LogsFetcher, repo SnippetFetcher) *Builder {
	return &Builder{settings: settings, queries: queries, logs: logs, repo: repo}
}

// Input carries everything the builder needs for one run.
type Input struct {
	Incident      *models.Incident
	Alert         *models.AlertEvent
	Entry         config.ServiceEntry
	Deploys       []*models.DeploymentEvent
	ConfigChanges []*models.ConfigChange
}

// Result is the assembled pack content plus the quality assessment.
type Result struct {
	Window             Window
	Artifacts          []map[string]any
	QueryNames         []string
	QueryStrings       []string
	QueryArtifactCount int
	Score              float64
	Level              string
	ScoreReasons       []string
	CorrelationMatched bool
}

// Build runs the full evidence pipeline. It performs no database writes;
// the caller persists the result.
func (b *Builder) Build(ctx context.Context, in Input) (*Result, error) {
	alert := in.Alert
	w := ComputeWindow(alert.FiredAt, b.settings.TriageWindowMinutes, alert.Severity, alert.CorrelationID)

	logGroup := "/aws/lambda/default"
	if len(in.Entry.LogGroups) > 0 {
		logGroup = in.Entry.LogGroups[0]
	}

	queries, names, err := b.selectQueries(alert)
	if err != nil {
		return nil, err
	}

	res := &Result{Window: w, QueryNames: names}

	var (
		allLines         []string
		correlationLines int
		queriesWithHits  int
	)
	for _, name := range names {
		query := queries[name]
		res.QueryStrings = append(res.QueryStrings, query)

		lr, err := b.logs.FetchLogs(ctx, logGroup, w.Start, w.End, query)
		if err != nil {
			return nil, fmt.Errorf("logs query %q: %w", name, err)
		}
		allLines = append(allLines, lr.Lines...)
		if len(lr.Lines) > 0 {
			queriesWithHits++
			if name == "correlation" {
				correlationLines = len(lr.Lines)
			}
		}

		artifact, err := tagArtifact("logs_query", map[string]any{
			"name":         name,
			"query_id":     lr.QueryID,
			"log_group":    logGroup,
			"query_string": query,
			"start":        w.Start.Format(time.RFC3339),
			"end":          w.End.Format(time.RFC3339),
			"status":       "Complete",
			"line_count":   len(lr.Lines),
		})
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, artifact)
		res.QueryArtifactCount++
	}

	signatures, err := RankPatterns(allLines)
	if err != nil {
		return nil, err
	}
	var topExceptions []string
	for _, line := range allLines {
		if strings.Contains(line, "Exception") {
			topExceptions = append(topExceptions, line)
			if len(topExceptions) == 5 {
				break
			}
		}
	}
	summary, err := tagArtifact("log_summary", map[string]any{
		"signatures":     signatures,
		"top_exceptions": topExceptions,
	})
	if err != nil {
		return nil, err
	}
	res.Artifacts = append(res.Artifacts, summary)

	snippets, err := b.collectSnippets(in, allLines, signatures)
	if err != nil {
		return nil, err
	}
	for _, sn := range snippets {
		artifact, err := tagArtifact("repo_snippet", map[string]any{
			"snippet_id": sn.SnippetID,
			"file_path":  sn.FilePath,
			"start_line": sn.StartLine,
			"end_line":   sn.EndLine,
			"content":    sn.Content,
			"reason":     sn.Reason,
			"commit_sha": sn.CommitSHA,
			"confidence": sn.Confidence,
		})
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, artifact)
	}

	timeline, err := tagArtifact("timeline", map[string]any{
		"events": buildTimeline(alert, in.Deploys, in.ConfigChanges),
	})
	if err != nil {
		return nil, err
	}
	res.Artifacts = append(res.Artifacts, timeline)

	commits, err := b.repo.RecentCommits(in.Entry.RepoLocalPath, 5)
	if err != nil {
		return nil, err
	}
	changeCtx, err := tagArtifact("change_context", map[string]any{
		"repo_path":      in.Entry.RepoLocalPath,
		"branch":         "main",
		"recent_commits": commits,
	})
	if err != nil {
		return nil, err
	}
	res.Artifacts = append(res.Artifacts, changeCtx)

	res.CorrelationMatched = correlationLines > 0
	res.Score, res.Level, res.ScoreReasons = scoreEvidence(scoreInput{
		correlationMatched: res.CorrelationMatched,
		signatures:         signatures,
		snippetCount:       len(snippets),
		queriesWithHits:    queriesWithHits,
		alertReason:        alert.Annotations["reason"],
		alertState:         alert.State,
		fixtureMode:        b.settings.FixtureMode,
	})
	return res, nil
}

// selectQueries merges the library queries for the alarm, adds a correlation
// grep when the alert carries an id, and caps the set. Names are sorted so
// runs are deterministic; correlation always survives the cap.
func (b *Builder) selectQueries(alert *models.AlertEvent) (map[string]string, []string, error) {
	queries, err := b.queries.QueriesFor(alert.Labels["alarm_name"])
	if err != nil {
		return nil, nil, err
	}
	if len(queries) == 0 {
		queries = map[string]string{}
		for name, q := range defaultQueries {
			queries[name] = q
		}
	}

	if alert.CorrelationID != "" {
		queries["correlation"] = fmt.Sprintf(
			"fields @timestamp, @message | filter @message like /%s/ | sort @timestamp desc | limit 200",
			regexp.QuoteMeta(alert.CorrelationID))
	}

	names := make([]string, 0, len(queries))
	for name := range queries {
		if name != "correlation" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := queries["correlation"]; ok {
		names = append([]string{"correlation"}, names...)
	}

	if limit := b.settings.MaxLogsQueriesPerIncident; limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return queries, names, nil
}

// collectSnippets maps stack frames to code, falling back to keyword search
// over the top signature tokens when no frame resolves.
func (b *Builder) collectSnippets(in Input, lines []string, signatures []Signature) ([]*Snippet, error) {
	var snippets []*Snippet
	for _, frame := range ExtractStackFrames(lines) {
		sn, err := b.repo.SnippetForFileLine(in.Entry.RepoLocalPath, filepath.Base(frame.Path), frame.Line, in.Incident.GitSHA)
		if err != nil {
			return nil, err
		}
		if sn != nil {
			snippets = append(snippets, sn)
		}
	}
	if len(snippets) > 0 {
		return snippets, nil
	}

	var keywords []string
	for _, sig := range signatures {
		fields := strings.Fields(sig.Pattern)
		if len(fields) > 0 && len(fields[0]) > 3 {
			keywords = append(keywords, fields[0])
		}
	}
	return b.repo.SearchSnippets(in.Entry.RepoLocalPath, keywords, b.settings.MaxRepoSnippets)
}

// buildTimeline merges the alert with in-window deploys and config changes,
// ordered by time.
func buildTimeline(alert *models.AlertEvent, deploys []*models.DeploymentEvent, changes []*models.ConfigChange) []map[string]any {
	type event struct {
		at    time.Time
		entry map[string]any
	}
	events := []event{{
		at: alert.FiredAt,
		entry: map[string]any{
			"type":     "alert",
			"at":       alert.FiredAt.Format(time.RFC3339),
			"title":    alert.Title,
			"severity": alert.Severity,
			"state":    alert.State,
		},
	}}
	for _, d := range deploys {
		events = append(events, event{at: d.DeployedAt, entry: map[string]any{
			"type":    "deploy",
			"at":      d.DeployedAt.Format(time.RFC3339),
			"version": d.Version,
			"git_sha": d.GitSHA,
			"actor":   d.Actor,
		}})
	}
	for _, c := range changes {
		events = append(events, event{at: c.ChangedAt, entry: map[string]any{
			"type":  "config",
			"at":    c.ChangedAt.Format(time.RFC3339),
			"actor": c.Actor,
			"diff":  c.Diff,
		}})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	out := make([]map[string]any, len(events))
	for i, e := range events {
		out[i] = e.entry
	}
	return out
}

// tagArtifact computes the stable artifact id over the payload and returns
// the payload with type and artifact_id set.
func tagArtifact(artifactType string, payload map[string]any) (map[string]any, error) {
	id, err := hashing.ArtifactID(artifactType, payload)
	if err != nil {
		return nil, fmt.Errorf("artifact id for %s: %w", artifactType, err)
	}
	payload["type"] = artifactType
	payload["artifact_id"] = id
	return payload, nil
}
