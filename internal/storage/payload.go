package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/permitworks/permittrack/internal/tracker"
)

const (
	appID         = "permittrack"
	schemaVersion = 3
)

// payloadEnvelope is the on-disk/on-wire wrapper around a bundle. Field
// names are stable for compatibility with existing saved data.
type payloadEnvelope struct {
	App           string          `json:"app"`
	SchemaVersion int             `json:"schemaVersion"`
	Backend       string          `json:"backend"`
	SavedAtUTC    string          `json:"savedAtUtc"`
	Data          json.RawMessage `json:"data"`
}

// BuildPayload wraps a bundle in the storage envelope.
func BuildPayload(bundle *tracker.Bundle, backend string) ([]byte, error) {
	data, err := tracker.EncodePayload(bundle)
	if err != nil {
		return nil, err
	}
	envelope := payloadEnvelope{
		App:           appID,
		SchemaVersion: schemaVersion,
		Backend:       backend,
		SavedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		Data:          data,
	}
	return json.MarshalIndent(envelope, "", "  ")
}

// ParsePayload decodes a stored payload, accepting both the enveloped form
// and a bare bundle object. The boolean reports whether the decoded bundle
// needed normalization repair.
func ParsePayload(raw []byte) (*tracker.Bundle, bool, error) {
	var envelope payloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false, fmt.Errorf("storage payload must be a JSON object: %w", err)
	}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return tracker.DecodePayload(envelope.Data)
	}
	return tracker.DecodePayload(raw)
}
