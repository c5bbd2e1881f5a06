package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// schemaInstruction renders a JSON Schema for v and returns a prompt suffix
// instructing the model to reply with a conforming document. Keeping the
// schema in the prompt rather than per-provider structured-output params lets
// every backend in a fallback chain share one prompt.
func schemaInstruction(v any) (string, error) {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return fmt.Sprintf("\n\nRespond with JSON only, no prose, conforming to this JSON Schema:\n%s", data), nil
}
