package models

import "fmt"

// ReportValidationError describes why an LLM report payload was rejected.
type ReportValidationError struct {
	Field   string
	Message string
}

func (e *ReportValidationError) Error() string {
	return fmt.Sprintf("invalid report payload: %s: %s", e.Field, e.Message)
}

// EvidenceRef cites one artifact in the incident's current evidence pack.
// Pointer narrows the citation inside the artifact (a signature id, a line).
type EvidenceRef struct {
	ArtifactID string `json:"artifact_id"`
	Pointer    string `json:"pointer,omitempty"`
}

// FactClaim is an observation the model asserts, with mandatory citations.
type FactClaim struct {
	ClaimID      string        `json:"claim_id"`
	Text         string        `json:"text"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
}

// Hypothesis is a ranked candidate root cause with a confidence in [0,1].
type Hypothesis struct {
	Rank                 int           `json:"rank"`
	Title                string        `json:"title"`
	Explanation          string        `json:"explanation"`
	Confidence           float64       `json:"confidence"`
	EvidenceRefs         []EvidenceRef `json:"evidence_refs"`
	DisconfirmingSignals []string      `json:"disconfirming_signals"`
	MissingData          []string      `json:"missing_data"`
}

// NextCheck is a concrete follow-up investigation step.
type NextCheck struct {
	CheckID        string        `json:"check_id"`
	Step           string        `json:"step"`
	CommandOrQuery string        `json:"command_or_query,omitempty"`
	EvidenceRefs   []EvidenceRef `json:"evidence_refs"`
}

// MitigationAction is a suggested remediation with its risk.
type MitigationAction struct {
	MitigationID string        `json:"mitigation_id"`
	Action       string        `json:"action"`
	Risk         string        `json:"risk"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
}

// ReportClaim is the flattened claims index across all sections.
type ReportClaim struct {
	ClaimID      string        `json:"claim_id"`
	Type         string        `json:"type"` // fact, hypothesis, next_check, mitigation
	Text         string        `json:"text"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
}

// GenerationMetadata records which gateway produced the payload.
type GenerationMetadata struct {
	LLMProvider           string `json:"llm_provider"`
	LLMEndpointUsed       string `json:"llm_endpoint_used,omitempty"`
	EndpointFailoverCount *int   `json:"endpoint_failover_count,omitempty"`
}

// Report payload modes.
const (
	ModeNormal               = "normal"
	ModeInsufficientEvidence = "insufficient_evidence"
)

// ReportPayload is the structured triage report produced by the LLM gateway
// (or the no-guess fallback) and stored verbatim after validation.
type ReportPayload struct {
	Summary            string             `json:"summary"`
	Mode               string             `json:"mode"`
	Facts              []FactClaim        `json:"facts"`
	Hypotheses         []Hypothesis       `json:"hypotheses"`
	NextChecks         []NextCheck        `json:"next_checks"`
	Mitigations        []MitigationAction `json:"mitigations"`
	Claims             []ReportClaim      `json:"claims"`
	UncertaintyNote    string             `json:"uncertainty_note,omitempty"`
	GenerationMetadata GenerationMetadata `json:"generation_metadata"`
}

// Validate enforces the report contract: every fact must cite at least one
// evidence artifact, and hypothesis confidences stay within [0,1].
func (p *ReportPayload) Validate() error {
	if p.Summary == "" {
		return &ReportValidationError{Field: "summary", Message: "must not be empty"}
	}
	if p.Mode != ModeNormal && p.Mode != ModeInsufficientEvidence {
		return &ReportValidationError{Field: "mode", Message: "must be normal or insufficient_evidence"}
	}
	for i, f := range p.Facts {
		if f.Text == "" {
			return &ReportValidationError{Field: fmt.Sprintf("facts[%d].text", i), Message: "must not be empty"}
		}
		if len(f.EvidenceRefs) == 0 {
			return &ReportValidationError{Field: fmt.Sprintf("facts[%d].evidence_refs", i), Message: "facts must cite evidence artifacts"}
		}
	}
	for i, h := range p.Hypotheses {
		if h.Confidence < 0 || h.Confidence > 1 {
			return &ReportValidationError{Field: fmt.Sprintf("hypotheses[%d].confidence", i), Message: "must be within [0, 1]"}
		}
	}
	return nil
}

// CitedArtifactIDs collects every artifact id referenced anywhere in the
// payload, for checking against the evidence pack.
func (p *ReportPayload) CitedArtifactIDs() []string {
	var ids []string
	add := func(refs []EvidenceRef) {
		for _, r := range refs {
			ids = append(ids, r.ArtifactID)
		}
	}
	for _, f := range p.Facts {
		add(f.EvidenceRefs)
	}
	for _, h := range p.Hypotheses {
		add(h.EvidenceRefs)
	}
	for _, n := range p.NextChecks {
		add(n.EvidenceRefs)
	}
	for _, m := range p.Mitigations {
		add(m.EvidenceRefs)
	}
	for _, c := range p.Claims {
		add(c.EvidenceRefs)
	}
	return ids
}
