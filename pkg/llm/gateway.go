// Package llm implements the gateway to the report-generating model: a
// multi-endpoint Ollama client with health-checked failover, and an OpenAI
// client for hosted generation.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/models"
)

// ConfigurationError marks the gateway as unusable (no endpoint reachable,
// no API key). The triage runner records these under the llm stage.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "llm configuration error: " + e.Reason
}

// IsConfigurationError reports whether err is a gateway configuration
// failure.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Gateway generates one schema-constrained triage report per call.
type Gateway interface {
	Generate(ctx context.Context, evidenceDigest map[string]any, schema map[string]any) (map[string]any, error)
	Metadata() models.GenerationMetadata
	ModelName() string
}

// systemPrompt is shared by every provider.
const systemPrompt = "You are producing an incident triage report with strict evidence-citation rules. " +
	"Do not invent any fact. Every fact must include evidence_refs with artifact_id and pointer. " +
	"Separate facts from hypotheses. Include claims[] that map all key statements to evidence_refs. " +
	"If evidence is weak, set mode=insufficient_evidence and only propose next_checks with citations. " +
	"Return JSON only, matching the provided JSON schema."

// New returns the gateway selected by LLM_PROVIDER.
func New(settings *config.Settings) (Gateway, error) {
	switch settings.LLMProvider {
	case "openai":
		return NewOpenAIGateway(settings), nil
	case "local":
		return NewOllamaGateway(settings), nil
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER=%q", settings.LLMProvider)
	}
}
