package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// JSONSchema generates the JSON schema describing the configuration file,
// suitable for editor validation and form generation.
func JSONSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		// Inline all definitions so consumers need no $ref resolution.
		DoNotReference: true,
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "Strand Configuration"
	schema.Description = "Configuration schema for the strand engine"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return data, nil
}
