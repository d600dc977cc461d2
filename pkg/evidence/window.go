// Package evidence assembles the per-incident evidence pack: log query
// results, ranked signatures, code snippets, a change timeline, and an
// evidence-quality score.
package evidence

import (
	"fmt"
	"time"
)

// Window is the evidence time range around the alert.
type Window struct {
	Start   time.Time
	End     time.Time
	Minutes int
	Reason  string
}

// ComputeWindow sizes the evidence window: narrow when a correlation id can
// pin down the request, wide for critical alerts, floored at 5 minutes.
func ComputeWindow(firedAt time.Time, baseMinutes int, severity, correlationID string) Window {
	multiplier := 1.0
	reason := "default window"
	switch {
	case correlationID != "":
		multiplier = 0.8
		reason = "narrowed: correlation id present"
	case severity == "critical" || severity == "high":
		multiplier = 1.5
		reason = "widened: severity " + severity
	}

	minutes := int(float64(baseMinutes) * multiplier)
	if minutes < 5 {
		minutes = 5
		reason = fmt.Sprintf("%s (floored at 5m)", reason)
	}

	d := time.Duration(minutes) * time.Minute
	return Window{
		Start:   firedAt.Add(-d),
		End:     firedAt.Add(d),
		Minutes: minutes,
		Reason:  reason,
	}
}
