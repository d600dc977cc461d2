// Package normalize converts source-specific alert payloads into the
// canonical AlertEvent. One adapter per source; both are pure transforms.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/incidentops/iats/pkg/models"
)

// Error marks an alert payload that cannot be normalized. The ingest
// boundary maps it to a 422 without persisting anything.
type Error struct {
	Source  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s payload: %s", e.Source, e.Message)
}

// correlationIDRe scans free-form alarm reason text for an embedded
// correlation, request, or trace id.
var correlationIDRe = regexp.MustCompile(`(?i)(correlation[_\s-]?id|request[_\s-]?id|trace[_\s-]?id)\s*[:=]\s*([A-Za-z0-9_.:/-]{6,})`)

// CloudWatch normalizes a CloudWatch EventBridge alarm state-change envelope.
func CloudWatch(payload map[string]any) (*models.AlertEvent, error) {
	detail, ok := payload["detail"].(map[string]any)
	if !ok {
		return nil, &Error{Source: "cloudwatch", Message: "missing detail"}
	}

	alarmName := str(detail["alarmName"], "unknown-alarm")
	state, _ := detail["state"].(map[string]any)
	prevState, _ := detail["previousState"].(map[string]any)
	stateValue := str(state["value"], "UNKNOWN")

	firedRaw := str(state["timestamp"], "")
	if firedRaw == "" {
		firedRaw = str(payload["time"], "")
	}
	if firedRaw == "" {
		return nil, &Error{Source: "cloudwatch", Message: "missing state timestamp"}
	}
	firedAt, err := parseTimestamp(firedRaw)
	if err != nil {
		return nil, &Error{Source: "cloudwatch", Message: fmt.Sprintf("bad state timestamp %q", firedRaw)}
	}

	var endedAt *time.Time
	if stateValue == "OK" {
		t := firedAt
		endedAt = &t
	}

	severity := "info"
	if stateValue == "ALARM" {
		severity = "critical"
	}

	reason := str(state["reason"], "")
	correlationID := extractCorrelationID(payload, detail, reason)

	return &models.AlertEvent{
		Source:        "cloudwatch",
		ExternalID:    str(payload["id"], alarmName),
		Title:         "CloudWatch Alarm: " + alarmName,
		Severity:      severity,
		State:         stateValue,
		CorrelationID: correlationID,
		FiredAt:       firedAt,
		EndedAt:       endedAt,
		Labels: map[string]string{
			"alarm_name":     alarmName,
			"region":         str(payload["region"], ""),
			"account_id":     str(payload["account"], ""),
			"previous_state": str(prevState["value"], ""),
		},
		Annotations: map[string]string{"reason": reason},
		ResourceRefs: map[string]string{
			"alarm_name":     alarmName,
			"region":         str(payload["region"], ""),
			"account_id":     str(payload["account"], ""),
			"correlation_id": correlationID,
		},
		RawPayload: payload,
	}, nil
}

func extractCorrelationID(payload, detail map[string]any, reason string) string {
	candidates := []any{
		detail["correlationId"],
		detail["correlation_id"],
		detail["requestId"],
		detail["request_id"],
		detail["traceId"],
		detail["trace_id"],
		payload["correlationId"],
		payload["correlation_id"],
	}
	for _, c := range candidates {
		if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if m := correlationIDRe.FindStringSubmatch(reason); m != nil {
		return m[2]
	}
	return ""
}

// Alertmanager normalizes an Alertmanager webhook envelope. The webhook does
// not carry a firing timestamp for the group, so fired_at is the ingest time.
func Alertmanager(payload map[string]any, now time.Time) (*models.AlertEvent, error) {
	labels := stringMap(payload["commonLabels"])
	annotations := stringMap(payload["commonAnnotations"])

	name := labels["alertname"]
	if name == "" {
		name = "unknown-alertmanager-alert"
	}
	service := labels["service"]
	if service == "" {
		service = "unknown-service"
	}
	env := labels["env"]
	if env == "" {
		env = "unknown"
	}

	severity := labels["severity"]
	if severity == "" {
		severity = "warning"
	}

	correlationID := labels["correlation_id"]
	if correlationID == "" {
		correlationID = labels["trace_id"]
	}

	return &models.AlertEvent{
		Source:        "alertmanager",
		ExternalID:    str(payload["groupKey"], name),
		Title:         "Alertmanager: " + name,
		Severity:      severity,
		State:         strings.ToUpper(str(payload["status"], "firing")),
		CorrelationID: correlationID,
		FiredAt:       now.UTC(),
		Labels:        labels,
		Annotations:   annotations,
		ResourceRefs: map[string]string{
			"alert_name": name,
			"service":    service,
			"env":        env,
		},
		RawPayload: payload,
	}, nil
}

// ResolverKey returns the registry lookup key for a normalized event:
// the alarm name for CloudWatch, the service label for Alertmanager.
func ResolverKey(event *models.AlertEvent) string {
	if event.Source == "cloudwatch" {
		return event.Labels["alarm_name"]
	}
	if s := event.Labels["service"]; s != "" {
		return s
	}
	return event.ResourceRefs["service"]
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func str(v any, fallback string) string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t
		}
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", t), ".0")
	case bool:
		return fmt.Sprintf("%v", t)
	}
	return fallback
}

// stringMap coerces every value of a decoded-JSON object to a string, the
// way label and annotation maps are stored.
func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		switch t := item.(type) {
		case string:
			out[k] = t
		default:
			out[k] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
