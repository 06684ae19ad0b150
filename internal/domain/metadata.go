package domain

import (
	"encoding/json"
	"fmt"
)

const (
	MaxMetadataKeys  = 64
	MaxMetadataBytes = 16 * 1024
)

// Metadata is an opaque key→JSON map attached to entities.
type Metadata map[string]json.RawMessage

// Validate enforces the size bounds and that every value is valid JSON.
func (m Metadata) Validate() error {
	if len(m) > MaxMetadataKeys {
		return fmt.Errorf("metadata has %d keys, limit is %d", len(m), MaxMetadataKeys)
	}
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("metadata key must not be empty")
		}
		if !json.Valid(v) {
			return fmt.Errorf("metadata value for %q is not valid JSON", k)
		}
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if len(encoded) > MaxMetadataBytes {
		return fmt.Errorf("metadata is %d bytes, limit is %d", len(encoded), MaxMetadataBytes)
	}
	return nil
}

// Set stores value under key as JSON.
func (m Metadata) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m[key] = raw
	return nil
}

// String returns the value under key when it is a JSON string.
func (m Metadata) String(key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Clone returns a shallow copy safe for independent mutation of keys.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
