package storage

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema for persisted payloads. Deliberately shallow: it pins the shape the
// other devices rely on (collection fields are arrays of objects, the active
// template mapping is string→string) without freezing per-entity fields,
// which the typed decoders normalize anyway.
const bundleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "permittrack://bundle.schema.json",
  "anyOf": [
    {
      "type": "object",
      "required": ["data"],
      "properties": {
        "app": {"type": "string"},
        "schemaVersion": {"type": "integer"},
        "backend": {"type": "string"},
        "savedAtUtc": {"type": "string"},
        "data": {"$ref": "#/$defs/bundle"}
      }
    },
    {
      "allOf": [
        {"$ref": "#/$defs/bundle"},
        {"not": {"required": ["data"]}}
      ]
    }
  ],
  "$defs": {
    "bundle": {
      "type": "object",
      "properties": {
        "contacts": {"type": "array", "items": {"type": "object"}},
        "jurisdictions": {"type": "array", "items": {"type": "object"}},
        "properties": {"type": "array", "items": {"type": "object"}},
        "permits": {"type": "array", "items": {"type": "object"}},
        "document_templates": {"type": "array", "items": {"type": "object"}},
        "active_document_template_ids": {
          "type": "object",
          "additionalProperties": {"type": "string"}
        }
      }
    }
  }
}`

var (
	bundleSchemaOnce sync.Once
	bundleSchema     *jsonschema.Schema
	bundleSchemaErr  error
)

func compiledBundleSchema() (*jsonschema.Schema, error) {
	bundleSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(bundleSchemaJSON))
		if err != nil {
			bundleSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("permittrack://bundle.schema.json", doc); err != nil {
			bundleSchemaErr = err
			return
		}
		bundleSchema, bundleSchemaErr = compiler.Compile("permittrack://bundle.schema.json")
	})
	return bundleSchema, bundleSchemaErr
}

// ValidatePayload checks a stored payload against the bundle schema.
// Violations are reported as errors for the caller to downgrade into load
// warnings; validation never blocks a load on its own.
func ValidatePayload(raw []byte) error {
	schema, err := compiledBundleSchema()
	if err != nil {
		return fmt.Errorf("bundle schema unavailable: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("payload failed schema validation: %w", err)
	}
	return nil
}
