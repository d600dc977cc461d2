package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() *ReportPayload {
	return &ReportPayload{
		Summary: "checkout-api error rate spike caused by payment provider timeouts",
		Mode:    ModeNormal,
		Facts: []FactClaim{
			{
				ClaimID:      "fact-1",
				Text:         "error volume rose after 10:00 UTC",
				EvidenceRefs: []EvidenceRef{{ArtifactID: "abc123def456"}},
			},
		},
		Hypotheses: []Hypothesis{
			{
				Rank:         1,
				Title:        "payment provider timeout",
				Confidence:   0.8,
				EvidenceRefs: []EvidenceRef{{ArtifactID: "abc123def456", Pointer: "sig-1"}},
			},
		},
		NextChecks: []NextCheck{
			{CheckID: "check-1", Step: "inspect provider latency", EvidenceRefs: []EvidenceRef{{ArtifactID: "fedcba654321"}}},
		},
		GenerationMetadata: GenerationMetadata{LLMProvider: "openai"},
	}
}

func TestReportPayloadValidate(t *testing.T) {
	require.NoError(t, validPayload().Validate())

	tests := []struct {
		name      string
		mutate    func(p *ReportPayload)
		wantField string
	}{
		{
			name:      "empty summary",
			mutate:    func(p *ReportPayload) { p.Summary = "" },
			wantField: "summary",
		},
		{
			name:      "unknown mode",
			mutate:    func(p *ReportPayload) { p.Mode = "speculative" },
			wantField: "mode",
		},
		{
			name:      "fact without text",
			mutate:    func(p *ReportPayload) { p.Facts[0].Text = "" },
			wantField: "facts[0].text",
		},
		{
			name:      "fact without citations",
			mutate:    func(p *ReportPayload) { p.Facts[0].EvidenceRefs = nil },
			wantField: "facts[0].evidence_refs",
		},
		{
			name:      "confidence above one",
			mutate:    func(p *ReportPayload) { p.Hypotheses[0].Confidence = 1.2 },
			wantField: "hypotheses[0].confidence",
		},
		{
			name:      "negative confidence",
			mutate:    func(p *ReportPayload) { p.Hypotheses[0].Confidence = -0.1 },
			wantField: "hypotheses[0].confidence",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)
			err := p.Validate()
			var verr *ReportValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestCitedArtifactIDs(t *testing.T) {
	p := validPayload()
	p.Mitigations = []MitigationAction{
		{MitigationID: "mit-1", Action: "fail over provider", EvidenceRefs: []EvidenceRef{{ArtifactID: "mitref111111"}}},
	}
	p.Claims = []ReportClaim{
		{ClaimID: "fact-1", Type: "fact", EvidenceRefs: []EvidenceRef{{ArtifactID: "abc123def456"}}},
	}

	ids := p.CitedArtifactIDs()
	assert.ElementsMatch(t, []string{
		"abc123def456", "abc123def456", "fedcba654321", "mitref111111", "abc123def456",
	}, ids)
}
