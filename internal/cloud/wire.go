package cloud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SerializeTelemetry formats a telemetry message: a single pair whose value
// is always a JSON string, e.g. { "Heart_rate": "72" }.
func SerializeTelemetry(key, value string) string {
	k, _ := json.Marshal(key)
	v, _ := json.Marshal(value)
	return fmt.Sprintf("{ %s: %s }", k, v)
}

// SerializeReport formats a reported property, e.g. {"StatusLED":true}.
func SerializeReport(key string, value any) ([]byte, error) {
	switch value.(type) {
	case bool, string:
	default:
		return nil, fmt.Errorf("cloud: report %s: unsupported value type %T", key, value)
	}
	b, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return nil, fmt.Errorf("cloud: report %s: %w", key, err)
	}
	return b, nil
}

// ParseDesired extracts the desired properties from a full twin document or
// a desired-properties patch. Each entry is the raw "value" of a property
// object; entries that are not {"value": ...} objects or whose value is null
// are skipped, as is the "$version" metadata.
func ParseDesired(payload []byte) (map[string]json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("parse twin: %w", err)
	}
	if root == nil {
		return nil, errors.New("parse twin: not an object")
	}

	props := root
	if nested, ok := root["desired"]; ok {
		props = nil
		if err := json.Unmarshal(nested, &props); err != nil || props == nil {
			return nil, errors.New("parse twin: \"desired\" is not an object")
		}
	}

	out := make(map[string]json.RawMessage)
	for key, raw := range props {
		if len(key) > 0 && key[0] == '$' {
			continue
		}
		var entry struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Value == nil {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(entry.Value), []byte("null")) {
			continue
		}
		out[key] = entry.Value
	}
	return out, nil
}
