// Package hashing provides the deterministic hashes the service keys on:
// incident dedup keys and evidence artifact ids.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON marshals v compactly with object keys sorted, so equal
// values always produce byte-identical output. encoding/json already sorts
// map keys; structs must not be passed here since field order would leak in.
func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return b, nil
}

// StableHash returns the hex SHA-256 of the canonical JSON form of v.
func StableHash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DedupKey derives the incident grouping key from the identity fields of a
// normalized alert. Labels participate as a key-sorted pair list so that
// delivery order never changes the key.
func DedupKey(service, env, resourceKey, correlationID string, labels map[string]string) string {
	pairs := make([][2]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, [2]string{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	key, err := StableHash(map[string]any{
		"service":        service,
		"env":            env,
		"alarm_name":     resourceKey,
		"correlation_id": correlationID,
		"labels":         pairs,
	})
	if err != nil {
		// map[string]any over strings cannot fail to marshal
		panic(err)
	}
	return key
}

// ArtifactID derives the short citation id for one evidence artifact from
// its type tag and payload. Twelve hex chars keeps citations readable while
// staying unique within a pack.
func ArtifactID(artifactType string, payload any) (string, error) {
	b, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(artifactType + ":" + string(b)))
	return hex.EncodeToString(sum[:])[:12], nil
}
