package llm

// ReportSchema is the JSON schema the gateway constrains generation to. It
// mirrors the stored report payload shape.
func ReportSchema() map[string]any {
	evidenceRefs := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":     "object",
			"required": []string{"artifact_id"},
			"properties": map[string]any{
				"artifact_id": map[string]any{"type": "string"},
				"pointer":     map[string]any{"type": "string"},
			},
		},
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"summary", "mode", "facts", "hypotheses", "next_checks", "mitigations", "claims"},
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"mode":    map[string]any{"enum": []string{"normal", "insufficient_evidence"}},
			"facts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"claim_id", "text", "evidence_refs"},
					"properties": map[string]any{
						"claim_id":      map[string]any{"type": "string"},
						"text":          map[string]any{"type": "string"},
						"evidence_refs": evidenceRefs,
					},
				},
			},
			"hypotheses": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"rank", "title", "explanation", "confidence"},
					"properties": map[string]any{
						"rank":                  map[string]any{"type": "integer"},
						"title":                 map[string]any{"type": "string"},
						"explanation":           map[string]any{"type": "string"},
						"confidence":            map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"evidence_refs":         evidenceRefs,
						"disconfirming_signals": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"missing_data":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
			"next_checks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"check_id", "step"},
					"properties": map[string]any{
						"check_id":         map[string]any{"type": "string"},
						"step":             map[string]any{"type": "string"},
						"command_or_query": map[string]any{"type": "string"},
						"evidence_refs":    evidenceRefs,
					},
				},
			},
			"mitigations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"mitigation_id", "action", "risk"},
					"properties": map[string]any{
						"mitigation_id": map[string]any{"type": "string"},
						"action":        map[string]any{"type": "string"},
						"risk":          map[string]any{"type": "string"},
						"evidence_refs": evidenceRefs,
					},
				},
			},
			"claims": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"claim_id", "type", "text", "evidence_refs"},
					"properties": map[string]any{
						"claim_id":      map[string]any{"type": "string"},
						"type":          map[string]any{"enum": []string{"fact", "hypothesis", "next_check", "mitigation"}},
						"text":          map[string]any{"type": "string"},
						"evidence_refs": evidenceRefs,
					},
				},
			},
			"uncertainty_note": map[string]any{"type": "string"},
		},
	}
}
