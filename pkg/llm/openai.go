package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/models"
)

// OpenAIGateway is the hosted provider. It makes a single attempt per
// generation; the vendor SDK retries transient transport errors internally.
type OpenAIGateway struct {
	client *openai.Client
	model  string
}

// NewOpenAIGateway builds the hosted gateway. A missing API key is reported
// per generation so the triage runner can fail incidents under the llm stage
// instead of the process refusing to boot.
func NewOpenAIGateway(settings *config.Settings) *OpenAIGateway {
	g := &OpenAIGateway{model: settings.OpenAIModel}
	if settings.OpenAIAPIKey != "" {
		g.client = openai.NewClient(settings.OpenAIAPIKey)
	}
	return g
}

// ModelName returns the configured hosted model.
func (g *OpenAIGateway) ModelName() string {
	return g.model
}

// Metadata returns provider metadata.
func (g *OpenAIGateway) Metadata() models.GenerationMetadata {
	return models.GenerationMetadata{LLMProvider: "openai"}
}

// Generate asks for a JSON-object completion over the digest and schema.
func (g *OpenAIGateway) Generate(ctx context.Context, evidenceDigest map[string]any, schema map[string]any) (map[string]any, error) {
	if g.client == nil {
		return nil, &ConfigurationError{Reason: "OPENAI_API_KEY is not configured"}
	}
	user, err := json.Marshal(map[string]any{
		"evidence_pack_digest": evidenceDigest,
		"json_schema":          schema,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal user message: %w", err)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(user)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("LLM response was empty")
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &output); err != nil {
		return nil, fmt.Errorf("hosted LLM returned invalid JSON: %w", err)
	}
	return output, nil
}
