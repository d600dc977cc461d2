package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "iats", s.AppName)
	assert.Equal(t, ":8080", s.HTTPAddr)
	assert.Equal(t, "local", s.LLMProvider)
	assert.True(t, s.FixtureMode)
	assert.False(t, s.AllowRawStorage)
	assert.Equal(t, 10, s.TriageWindowMinutes)
	assert.Equal(t, 90, s.DeployCorrelationWindowMinutes)
	assert.Equal(t, 2, s.EvidenceMinRefsForConfident)
	assert.InDelta(t, 0.45, s.NoGuessConfidenceThreshold, 1e-9)
	assert.Equal(t, 3, s.TaskMaxRetries)
	assert.Equal(t, 2, s.WorkerConcurrency)
	assert.Equal(t, 30, s.DataRetentionDays)
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("TRIAGE_WINDOW_MINUTES", "25")
	t.Setenv("OLLAMA_ENDPOINTS", "http://a:11434,http://b:11434")
	t.Setenv("AUTH_ENABLED", "false")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", s.LLMProvider)
	assert.Equal(t, 25, s.TriageWindowMinutes)
	assert.Equal(t, []string{"http://a:11434", "http://b:11434"}, s.OllamaEndpoints)
	assert.False(t, s.AuthEnabled)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "bedrock")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_PROVIDER must be openai or local")
}

func TestDurationAccessors(t *testing.T) {
	t.Setenv("TRIAGE_WINDOW_MINUTES", "15")
	t.Setenv("DEPLOY_CORRELATION_WINDOW_MINUTES", "60")
	t.Setenv("LOCAL_LLM_TIMEOUT_SECONDS", "120")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "15m0s", s.TriageWindow().String())
	assert.Equal(t, "1h0m0s", s.DeployCorrelationWindow().String())
	assert.Equal(t, "2m0s", s.LocalLLMTimeout().String())
}
