package docschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate validates "data" against "schemaMap".
func Validate(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ValidateResponse checks a schema-phase response envelope. A payload that
// fails here is unusable and counts as a schema-phase failure upstream.
func ValidateResponse(res any) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return Validate(responseSchema(), data)
}

// responseSchema constrains the envelope returned by the schema-guided phase.
func responseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":       map[string]any{"type": "string", "minLength": 1},
						"value":      map[string]any{"type": "string"},
						"confidence": confidenceProp(),
					},
					"required": []string{"type", "value"},
				},
			},
			"key_values": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":        map[string]any{"type": "string", "minLength": 1},
						"value":      map[string]any{"type": "string"},
						"confidence": confidenceProp(),
					},
					"required": []string{"key", "value"},
				},
			},
			"confidence": confidenceProp(),
		},
		"required": []string{"confidence"},
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}
