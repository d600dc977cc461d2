package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServiceEntry describes one owned service: where its logs and code live and
// who to page.
type ServiceEntry struct {
	Service       string   `yaml:"service" json:"service"`
	Env           string   `yaml:"env" json:"env"`
	LogGroups     []string `yaml:"log_groups" json:"log_groups"`
	RepoLocalPath string   `yaml:"repo_local_path" json:"repo_local_path"`
	Owners        []string `yaml:"owners" json:"owners"`
	RunbookURL    string   `yaml:"runbook_url" json:"runbook_url"`
	DashboardURL  string   `yaml:"dashboard_url" json:"dashboard_url"`
}

type registryFile struct {
	Alarms   map[string]ServiceEntry `yaml:"alarms"`
	Services map[string]ServiceEntry `yaml:"services"`
}

// ServiceRegistry resolves alarm names and service labels to owned services.
type ServiceRegistry struct {
	alarms   map[string]ServiceEntry
	services map[string]ServiceEntry
}

// LoadServiceRegistry reads the registry YAML, expanding ${VAR} references
// from the environment before parsing. A missing file yields an empty
// registry; every lookup then falls back to the unknown-service entry.
func LoadServiceRegistry(path string) (*ServiceRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServiceRegistry{}, nil
		}
		return nil, fmt.Errorf("read service registry: %w", err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var f registryFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse service registry: %w", err)
	}
	return &ServiceRegistry{alarms: f.Alarms, services: f.Services}, nil
}

// fallbackEntry is used when neither the alarms nor the services map knows
// the key. Triage still runs; the report will carry the unknown service.
var fallbackEntry = ServiceEntry{
	Service:   "unknown-service",
	Env:       "unknown",
	LogGroups: []string{"/aws/lambda/unknown"},
	Owners:    []string{},
}

// Resolve looks up the key in the alarms map first, then the services map,
// then falls back to the unknown-service entry.
func (r *ServiceRegistry) Resolve(key string) ServiceEntry {
	if e, ok := r.alarms[key]; ok {
		return e
	}
	if e, ok := r.services[key]; ok {
		return e
	}
	return fallbackEntry
}
