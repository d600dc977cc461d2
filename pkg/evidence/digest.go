package evidence

import (
	"math"

	"github.com/incidentops/iats/pkg/hashing"
	"github.com/incidentops/iats/pkg/models"
)

const snippetDigestLimit = 1800

// BuildDigest condenses the pack into the structure handed to the LLM:
// alert context, top signatures, truncated snippets, the executed queries,
// the timeline, and the change context.
func BuildDigest(alert *models.AlertEvent, artifacts []map[string]any) map[string]any {
	var (
		patterns      any
		snippets      []map[string]any
		queries       []map[string]any
		timeline      any
		changeContext any
	)
	for _, artifact := range artifacts {
		switch artifact["type"] {
		case "log_summary":
			patterns = artifact["signatures"]
		case "repo_snippet":
			content, _ := artifact["content"].(string)
			if len(content) > snippetDigestLimit {
				content = content[:snippetDigestLimit]
			}
			snippets = append(snippets, map[string]any{
				"snippet_id": artifact["snippet_id"],
				"file_path":  artifact["file_path"],
				"content":    content,
			})
		case "logs_query":
			queries = append(queries, map[string]any{
				"query_id": artifact["query_id"],
				"name":     artifact["name"],
				"query":    artifact["query_string"],
			})
		case "timeline":
			timeline = artifact["events"]
		case "change_context":
			changeContext = map[string]any{
				"repo_path":      artifact["repo_path"],
				"recent_commits": artifact["recent_commits"],
			}
		}
	}

	return map[string]any{
		"alert_summary":    alert.Title,
		"alert_severity":   alert.Severity,
		"alert_state":      alert.State,
		"correlation_id":   alert.CorrelationID,
		"top_log_patterns": patterns,
		"repo_snippets":    snippets,
		"queries":          queries,
		"timeline":         timeline,
		"change_context":   changeContext,
	}
}

// EstimateCost returns the informational token and dollar estimate for one
// generation over the digest.
func EstimateCost(digest map[string]any) (int, float64, error) {
	b, err := hashing.CanonicalJSON(digest)
	if err != nil {
		return 0, 0, err
	}
	tokens := len(b) / 4
	if tokens < 1 {
		tokens = 1
	}
	cost := math.Round(float64(tokens)*2e-6*1e6) / 1e6
	return tokens, cost, nil
}
