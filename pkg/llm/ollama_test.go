package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/iats/pkg/config"
)

const testModel = "qwen2.5:7b-instruct"

func ollamaSettings(endpoints ...string) *config.Settings {
	return &config.Settings{
		LLMProvider:                     "local",
		LocalLLMModel:                   testModel,
		OllamaEndpoints:                 endpoints,
		OllamaEndpointCacheTTLSeconds:   30,
		OllamaHealthcheckTimeoutSeconds: 3,
		LocalLLMTimeoutSeconds:          10,
	}
}

// fakeOllama serves /api/tags and /api/generate for one endpoint.
func fakeOllama(t *testing.T, hasModel bool, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		models := []map[string]string{}
		if hasModel {
			models = append(models, map[string]string{"name": testModel})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	if generate != nil {
		mux.HandleFunc("/api/generate", generate)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func generateOK(t *testing.T, payload map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testModel, req["model"])
		assert.Equal(t, false, req["stream"])

		inner, err := json.Marshal(payload)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": string(inner)})
	}
}

func TestOllamaGenerate(t *testing.T) {
	want := map[string]any{"summary": "timeout spike", "mode": "normal"}
	srv := fakeOllama(t, true, generateOK(t, want))
	g := NewOllamaGateway(ollamaSettings(srv.URL))

	out, err := g.Generate(context.Background(), map[string]any{"alert_summary": "x"}, ReportSchema())
	require.NoError(t, err)
	assert.Equal(t, want, out)

	meta := g.Metadata()
	assert.Equal(t, "local", meta.LLMProvider)
	assert.Equal(t, srv.URL, meta.LLMEndpointUsed)
	require.NotNil(t, meta.EndpointFailoverCount)
	assert.Equal(t, 0, *meta.EndpointFailoverCount)
}

func TestOllamaGenerateFailsOverOnce(t *testing.T) {
	broken := fakeOllama(t, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	healthy := fakeOllama(t, true, generateOK(t, map[string]any{"summary": "from backup"}))
	g := NewOllamaGateway(ollamaSettings(broken.URL, healthy.URL))

	out, err := g.Generate(context.Background(), map[string]any{}, ReportSchema())
	require.NoError(t, err)
	assert.Equal(t, "from backup", out["summary"])

	meta := g.Metadata()
	assert.Equal(t, healthy.URL, meta.LLMEndpointUsed)
	require.NotNil(t, meta.EndpointFailoverCount)
	assert.Equal(t, 1, *meta.EndpointFailoverCount)
}

func TestOllamaGenerateSkipsEndpointWithoutModel(t *testing.T) {
	missing := fakeOllama(t, false, nil)
	healthy := fakeOllama(t, true, generateOK(t, map[string]any{"summary": "ok"}))
	g := NewOllamaGateway(ollamaSettings(missing.URL, healthy.URL))

	out, err := g.Generate(context.Background(), map[string]any{}, ReportSchema())
	require.NoError(t, err)
	assert.Equal(t, "ok", out["summary"])
	assert.Equal(t, healthy.URL, g.Metadata().LLMEndpointUsed)
}

func TestOllamaGenerateNoHealthyEndpoint(t *testing.T) {
	missing := fakeOllama(t, false, nil)
	g := NewOllamaGateway(ollamaSettings(missing.URL))

	_, err := g.Generate(context.Background(), map[string]any{}, ReportSchema())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "failed to reach any Ollama endpoint")
}

func TestOllamaGenerateNoEndpointsConfigured(t *testing.T) {
	g := NewOllamaGateway(ollamaSettings())

	_, err := g.Generate(context.Background(), map[string]any{}, ReportSchema())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "no Ollama endpoint configured")
}

func TestOllamaGenerateRejectsInvalidJSON(t *testing.T) {
	srv := fakeOllama(t, true, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "not json at all"})
	})
	g := NewOllamaGateway(ollamaSettings(srv.URL))

	_, err := g.Generate(context.Background(), map[string]any{}, ReportSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
	assert.False(t, IsConfigurationError(err))
}

func TestOllamaEndpointsDeduplicatesAndTrims(t *testing.T) {
	settings := ollamaSettings("http://a:11434/", " http://b:11434 ", "http://a:11434")
	settings.OllamaBaseURL = "http://a:11434"
	g := NewOllamaGateway(settings)

	assert.Equal(t, []string{"http://a:11434", "http://b:11434"}, g.endpoints())
}

func TestOllamaCachesHealthyEndpoint(t *testing.T) {
	healthChecks := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		healthChecks++
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": testModel}}})
	})
	mux.HandleFunc("/api/generate", generateOK(t, map[string]any{"summary": "ok"}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewOllamaGateway(ollamaSettings(srv.URL))
	for i := 0; i < 3; i++ {
		_, err := g.Generate(context.Background(), map[string]any{}, ReportSchema())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, healthChecks)
}

func TestNewSelectsGatewayByProvider(t *testing.T) {
	local, err := New(ollamaSettings("http://a:11434"))
	require.NoError(t, err)
	assert.IsType(t, &OllamaGateway{}, local)

	hosted, err := New(&config.Settings{LLMProvider: "openai"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGateway{}, hosted)

	_, err = New(&config.Settings{LLMProvider: "other"})
	require.Error(t, err)
}
