package events

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Inbound payload schemas, keyed by event type. Validation runs before
// unmarshalling so a malformed payload is rejected with a useful message
// instead of silently producing a zero-valued event.
var inboundSchemas = map[EventType]map[string]any{
	ExecutionUpdateEvent: {
		"type":     "object",
		"required": []any{"execution_id", "status"},
		"properties": map[string]any{
			"execution_id": map[string]any{"type": "string", "minLength": 1},
			"status": map[string]any{
				"type": "string",
				"enum": []any{"pending", "running", "completed", "failed", "cancelled"},
			},
			"progress":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"current_step": map[string]any{"type": "string"},
			"error":        map[string]any{"type": "string"},
		},
	},
	StepUpdateEvent: {
		"type":     "object",
		"required": []any{"execution_id", "step_id", "status"},
		"properties": map[string]any{
			"execution_id": map[string]any{"type": "string", "minLength": 1},
			"step_id":      map[string]any{"type": "string", "minLength": 1},
			"status": map[string]any{
				"type": "string",
				"enum": []any{"pending", "running", "completed", "failed", "skipped"},
			},
			"duration_ms": map[string]any{"type": "integer", "minimum": 0},
			"error":       map[string]any{"type": "string"},
		},
	},
	ExecutionStartedEvent: {
		"type":     "object",
		"required": []any{"execution"},
		"properties": map[string]any{
			"execution": map[string]any{
				"type":     "object",
				"required": []any{"id", "workflow_id", "status"},
				"properties": map[string]any{
					"id":          map[string]any{"type": "string", "minLength": 1},
					"workflow_id": map[string]any{"type": "string", "minLength": 1},
					"status":      map[string]any{"type": "string"},
				},
			},
		},
	},
	ExecutionCompletedEvent: {
		"type":     "object",
		"required": []any{"execution_id", "status"},
		"properties": map[string]any{
			"execution_id": map[string]any{"type": "string", "minLength": 1},
			"status": map[string]any{
				"type": "string",
				"enum": []any{"completed", "failed", "cancelled"},
			},
		},
	},
	ExecutionErroredEvent: {
		"type":     "object",
		"required": []any{"execution_id"},
		"properties": map[string]any{
			"execution_id": map[string]any{"type": "string", "minLength": 1},
			"error":        map[string]any{"type": "string"},
		},
	},
}

// ValidateInbound checks a raw inbound payload against the schema for its
// event type. Unknown event types pass through; the decode switch in the
// channel rejects them separately.
func ValidateInbound(eventType EventType, payload []byte) error {
	schema, ok := inboundSchemas[eventType]
	if !ok {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewBytesLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", eventType, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("malformed %s event: %s", eventType, strings.Join(messages, "; "))
	}

	return nil
}
