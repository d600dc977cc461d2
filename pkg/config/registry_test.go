package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service_registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServiceRegistryExpandsEnvVars(t *testing.T) {
	t.Setenv("REPO_BASE_PATH", "/srv/repos")
	path := writeRegistry(t, `
alarms:
  high-error-rate:
    service: checkout-api
    env: prod
    log_groups: ["/aws/lambda/checkout-api"]
    repo_local_path: ${REPO_BASE_PATH}/checkout-api
    owners: ["team-payments@example.com"]
    runbook_url: https://runbooks.example.com/checkout
services:
  checkout-api:
    service: checkout-api
    env: prod
    log_groups: ["/aws/lambda/checkout-api"]
`)

	reg, err := LoadServiceRegistry(path)
	require.NoError(t, err)

	entry := reg.Resolve("high-error-rate")
	assert.Equal(t, "checkout-api", entry.Service)
	assert.Equal(t, "/srv/repos/checkout-api", entry.RepoLocalPath)
	assert.Equal(t, []string{"team-payments@example.com"}, entry.Owners)
}

func TestResolvePrefersAlarmsOverServices(t *testing.T) {
	path := writeRegistry(t, `
alarms:
  checkout-api:
    service: from-alarms
    env: prod
services:
  checkout-api:
    service: from-services
    env: prod
`)

	reg, err := LoadServiceRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "from-alarms", reg.Resolve("checkout-api").Service)
}

func TestResolveFallsBackToServicesThenUnknown(t *testing.T) {
	path := writeRegistry(t, `
services:
  billing-api:
    service: billing-api
    env: staging
`)

	reg, err := LoadServiceRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, "billing-api", reg.Resolve("billing-api").Service)

	unknown := reg.Resolve("no-such-key")
	assert.Equal(t, "unknown-service", unknown.Service)
	assert.Equal(t, "unknown", unknown.Env)
	assert.Equal(t, []string{"/aws/lambda/unknown"}, unknown.LogGroups)
}

func TestLoadServiceRegistryMissingFile(t *testing.T) {
	reg, err := LoadServiceRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "unknown-service", reg.Resolve("anything").Service)
}

func TestLoadServiceRegistryRejectsBadYAML(t *testing.T) {
	path := writeRegistry(t, "alarms: [not a map")
	_, err := LoadServiceRegistry(path)
	require.Error(t, err)
}
