package evidence

import (
	"fmt"
	"regexp"
	"strings"
)

// Evidence quality levels.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

var errorSignalRe = regexp.MustCompile(`(?i)traceback|exception|valueerror|timeout|endpointconnectionerror`)

type scoreInput struct {
	correlationMatched bool
	signatures         []Signature
	snippetCount       int
	queriesWithHits    int
	alertReason        string
	alertState         string
	fixtureMode        bool
}

// scoreEvidence weighs the gathered signals into a [0,1] score with
// human-readable reasons for the provenance record.
func scoreEvidence(in scoreInput) (float64, string, []string) {
	score := 0.0
	var reasons []string

	if in.correlationMatched {
		score += 0.35
		reasons = append(reasons, "correlation id matched log lines (+0.35)")
	}
	if len(in.signatures) > 0 {
		score += 0.30
		reasons = append(reasons, fmt.Sprintf("%d ranked signatures (+0.30)", len(in.signatures)))
	}
	if in.snippetCount > 0 {
		score += 0.20
		reasons = append(reasons, fmt.Sprintf("%d code snippets (+0.20)", in.snippetCount))
	}
	if in.queriesWithHits >= 2 {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("%d queries returned results (+0.15)", in.queriesWithHits))
	}

	errorSignal := errorSignalRe.MatchString(in.alertReason)
	if !errorSignal {
		for _, sig := range in.signatures {
			if errorSignalRe.MatchString(sig.Pattern) {
				errorSignal = true
				break
			}
		}
	}
	if errorSignal {
		score += 0.20
		reasons = append(reasons, "error signal in signatures or alert reason (+0.20)")
	}
	if strings.EqualFold(in.alertState, "OK") {
		score += 0.15
		reasons = append(reasons, "alert state OK, recovery signal (+0.15)")
	}
	if in.fixtureMode {
		score -= 0.10
		reasons = append(reasons, "fixture mode active (-0.10)")
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	level := LevelLow
	switch {
	case score >= 0.75:
		level = LevelHigh
	case score >= 0.45:
		level = LevelMedium
	}
	return score, level, reasons
}
