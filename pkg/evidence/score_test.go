package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreEvidenceWeights(t *testing.T) {
	tests := []struct {
		name      string
		in        scoreInput
		wantScore float64
		wantLevel string
	}{
		{
			name:      "nothing gathered",
			in:        scoreInput{},
			wantScore: 0,
			wantLevel: LevelLow,
		},
		{
			name: "correlation only",
			in: scoreInput{
				correlationMatched: true,
			},
			wantScore: 0.35,
			wantLevel: LevelLow,
		},
		{
			name: "signatures and snippets",
			in: scoreInput{
				signatures:   []Signature{{Pattern: "INFO ok"}},
				snippetCount: 2,
			},
			wantScore: 0.50,
			wantLevel: LevelMedium,
		},
		{
			name: "error signal from signature pattern",
			in: scoreInput{
				signatures: []Signature{{Pattern: "RuntimeError: Timeout"}},
			},
			wantScore: 0.50,
			wantLevel: LevelMedium,
		},
		{
			name: "error signal from alert reason",
			in: scoreInput{
				alertReason: "Exception rate above threshold",
			},
			wantScore: 0.20,
			wantLevel: LevelLow,
		},
		{
			name: "recovery state adds",
			in: scoreInput{
				alertState: "ok",
			},
			wantScore: 0.15,
			wantLevel: LevelLow,
		},
		{
			name: "fixture mode penalty",
			in: scoreInput{
				correlationMatched: true,
				fixtureMode:        true,
			},
			wantScore: 0.25,
			wantLevel: LevelLow,
		},
		{
			name: "everything clamps to one",
			in: scoreInput{
				correlationMatched: true,
				signatures:         []Signature{{Pattern: "Traceback (most recent call last):"}},
				snippetCount:       1,
				queriesWithHits:    3,
				alertState:         "OK",
			},
			wantScore: 1,
			wantLevel: LevelHigh,
		},
		{
			name: "fixture penalty floors at zero",
			in: scoreInput{
				fixtureMode: true,
			},
			wantScore: 0,
			wantLevel: LevelLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level, reasons := scoreEvidence(tt.in)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantLevel, level)
			if tt.wantScore > 0 {
				assert.NotEmpty(t, reasons)
			}
		})
	}
}

func TestScoreEvidenceLevels(t *testing.T) {
	// Two queries with hits plus an error signal and correlation lands high.
	score, level, _ := scoreEvidence(scoreInput{
		correlationMatched: true,
		signatures:         []Signature{{Pattern: "timeout calling provider"}},
		queriesWithHits:    2,
	})
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, LevelHigh, level)

	score, level, _ = scoreEvidence(scoreInput{
		signatures:      []Signature{{Pattern: "INFO served"}},
		queriesWithHits: 2,
	})
	assert.InDelta(t, 0.45, score, 1e-9)
	assert.Equal(t, LevelMedium, level)
}
