package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// QueryEntry is one named log query template.
type QueryEntry struct {
	Query string `yaml:"query"`
}

type queryLibraryFile struct {
	Default map[string]QueryEntry            `yaml:"default"`
	Alarms  map[string]map[string]QueryEntry `yaml:"alarms"`
}

// QueryLibrary supplies the log queries to run per alarm: a default block
// merged under alarm-specific overrides.
type QueryLibrary struct {
	defaults map[string]QueryEntry
	alarms   map[string]map[string]QueryEntry
}

// LoadQueryLibrary reads the query library YAML. A missing file yields an
// empty library.
func LoadQueryLibrary(path string) (*QueryLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryLibrary{}, nil
		}
		return nil, fmt.Errorf("read query library: %w", err)
	}

	var f queryLibraryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse query library: %w", err)
	}
	return &QueryLibrary{defaults: f.Default, alarms: f.Alarms}, nil
}

// QueriesFor returns name → query string for the given alarm: the default
// block first, with alarm-specific entries overriding same-named defaults.
func (l *QueryLibrary) QueriesFor(alarmName string) (map[string]string, error) {
	merged := make(map[string]QueryEntry, len(l.defaults))
	if err := mergo.Merge(&merged, l.defaults); err != nil {
		return nil, fmt.Errorf("merge default queries: %w", err)
	}
	if overrides, ok := l.alarms[alarmName]; ok {
		if err := mergo.Merge(&merged, overrides, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge alarm queries: %w", err)
		}
	}

	out := make(map[string]string, len(merged))
	for name, e := range merged {
		if e.Query != "" {
			out[name] = e.Query
		}
	}
	return out, nil
}
