package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/incidentops/iats/pkg/config"
	"github.com/incidentops/iats/pkg/models"
)

// OllamaGateway drives one or more self-hosted Ollama endpoints. Endpoint
// health is cached under a short TTL; a transport failure mid-generation
// triggers exactly one failover to the next healthy endpoint.
type OllamaGateway struct {
	settings     *config.Settings
	healthClient *http.Client
	genClient    *http.Client

	mu           sync.Mutex
	cached       string
	cacheExpires time.Time

	metaMu sync.Mutex
	meta   models.GenerationMetadata
}

// NewOllamaGateway builds the local gateway from settings.
func NewOllamaGateway(settings *config.Settings) *OllamaGateway {
	return &OllamaGateway{
		settings:     settings,
		healthClient: &http.Client{Timeout: settings.OllamaHealthcheckTimeout()},
		genClient:    &http.Client{Timeout: settings.LocalLLMTimeout()},
		meta:         models.GenerationMetadata{LLMProvider: "local"},
	}
}

// ModelName returns the configured local model.
func (g *OllamaGateway) ModelName() string {
	return g.settings.LocalLLMModel
}

// Metadata returns provider metadata for the last generation.
func (g *OllamaGateway) Metadata() models.GenerationMetadata {
	g.metaMu.Lock()
	defer g.metaMu.Unlock()
	return g.meta
}

// endpoints returns the configured list: the legacy single URL first, then
// OLLAMA_ENDPOINTS, trimmed and deduplicated.
func (g *OllamaGateway) endpoints() []string {
	var all []string
	if legacy := strings.TrimRight(strings.TrimSpace(g.settings.OllamaBaseURL), "/"); legacy != "" {
		all = append(all, legacy)
	}
	for _, e := range g.settings.OllamaEndpoints {
		if e = strings.TrimRight(strings.TrimSpace(e), "/"); e != "" {
			all = append(all, e)
		}
	}
	var unique []string
	seen := map[string]bool{}
	for _, e := range all {
		if !seen[e] {
			seen[e] = true
			unique = append(unique, e)
		}
	}
	return unique
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// isHealthy probes /api/tags and requires the configured model to be pulled.
func (g *OllamaGateway) isHealthy(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if strings.TrimSpace(m.Name) == g.settings.LocalLLMModel {
			return true
		}
	}
	return false
}

// firstHealthy scans endpoints starting at startIndex, returning the first
// healthy one and its index, or -1.
func (g *OllamaGateway) firstHealthy(ctx context.Context, endpoints []string, startIndex int) (string, int) {
	for i := startIndex; i < len(endpoints); i++ {
		if g.isHealthy(ctx, endpoints[i]) {
			return endpoints[i], i
		}
	}
	return "", -1
}

func (g *OllamaGateway) cacheEndpoint(endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = endpoint
	g.cacheExpires = time.Now().Add(g.settings.OllamaCacheTTL())
}

// cachedEndpoint returns the cached endpoint if the TTL holds and it is
// still part of the current list.
func (g *OllamaGateway) cachedEndpoint(endpoints []string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached == "" || time.Now().After(g.cacheExpires) {
		return "", false
	}
	for _, e := range endpoints {
		if e == g.cached {
			return g.cached, true
		}
	}
	return "", false
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Generate posts to /api/generate on the selected endpoint, failing over at
// most once to the next healthy endpoint after the failing one.
func (g *OllamaGateway) Generate(ctx context.Context, evidenceDigest map[string]any, schema map[string]any) (map[string]any, error) {
	endpoints := g.endpoints()
	if len(endpoints) == 0 {
		return nil, &ConfigurationError{Reason: "no Ollama endpoint configured; set OLLAMA_ENDPOINTS"}
	}

	prompt, err := json.Marshal(map[string]any{
		"system_instruction":   systemPrompt,
		"evidence_pack_digest": evidenceDigest,
		"json_schema":          schema,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"model":   g.settings.LocalLLMModel,
		"stream":  false,
		"format":  schema,
		"prompt":  string(prompt),
		"options": map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	selected, selectedIndex := "", -1
	if cached, ok := g.cachedEndpoint(endpoints); ok {
		selected = cached
		for i, e := range endpoints {
			if e == cached {
				selectedIndex = i
				break
			}
		}
	} else {
		selected, selectedIndex = g.firstHealthy(ctx, endpoints, 0)
		if selected == "" {
			return nil, &ConfigurationError{
				Reason: "failed to reach any Ollama endpoint: " + strings.Join(endpoints, ", "),
			}
		}
		g.cacheEndpoint(selected)
	}

	failoverCount := 0
	raw, err := g.post(ctx, selected, body)
	if err != nil {
		firstErr := fmt.Sprintf("%s: %v", selected, err)
		next, _ := g.firstHealthy(ctx, endpoints, selectedIndex+1)
		if next == "" {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("failed to generate from configured Ollama endpoints: %v (%s)", err, firstErr),
			}
		}
		failoverCount = 1
		g.cacheEndpoint(next)
		raw, err = g.post(ctx, next, body)
		if err != nil {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("failed to generate from configured Ollama endpoints: %v (%s)", err, firstErr),
			}
		}
		selected = next
	}

	var gen ollamaGenerateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if gen.Response == "" {
		return nil, fmt.Errorf("local LLM response was empty")
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(gen.Response), &output); err != nil {
		return nil, fmt.Errorf("local LLM returned invalid JSON: %w", err)
	}

	g.metaMu.Lock()
	g.meta = models.GenerationMetadata{
		LLMProvider:           "local",
		LLMEndpointUsed:       selected,
		EndpointFailoverCount: &failoverCount,
	}
	g.metaMu.Unlock()
	return output, nil
}

func (g *OllamaGateway) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.genClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
