package provider

import (
	"encoding/json"

	"github.com/habiliai/parley/errors"
	"github.com/invopop/jsonschema"
)

// ReflectSchema derives a JSON Schema object from a Go value's type for use
// as structured-generation or tool-parameter schemas.
func ReflectSchema(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}

	schema := reflector.Reflect(v)
	return SchemaToMap(schema)
}

// SchemaToMap converts a reflected schema into the plain map form the vendor
// SDKs accept.
func SchemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal schema")
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal schema")
	}

	return m, nil
}
