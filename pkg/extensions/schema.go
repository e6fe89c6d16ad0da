package extensions

import (
	"encoding/json"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/invopop/jsonschema"
	"github.com/kadirpekel/conduit/internal/config"
)

// argType maps a conduit ArgumentDescriptor.Type onto a JSON Schema
// primitive type.
func argType(t string) string {
	switch t {
	case "number":
		return "number"
	case "bool":
		return "boolean"
	case "json":
		return "object"
	default:
		return "string"
	}
}

// ArgsSchema derives a JSON Schema object describing one command's
// argument list. Argument descriptors are config-loaded data, not a
// compile-time Go struct, so the jsonschema.Schema is built by hand
// rather than reflected over a type parameter.
func ArgsSchema(cmd config.CommandConfig) map[string]any {
	props := orderedmap.New[string, *jsonschema.Schema]()
	required := make([]string, 0, len(cmd.Arguments))

	args := make([]config.ArgumentDescriptor, len(cmd.Arguments))
	copy(args, cmd.Arguments)
	sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })

	for _, arg := range args {
		props.Set(arg.Name, &jsonschema.Schema{
			Type:        argType(arg.Type),
			Description: arg.Description,
			Default:     arg.Default,
		})
		if arg.Required {
			required = append(required, arg.Name)
		}
	}

	schema := &jsonschema.Schema{
		Type:       "object",
		Title:      cmd.DisplayName,
		Properties: props,
		Required:   required,
	}
	if schema.Title == "" {
		schema.Title = cmd.Name
	}

	return schemaToMap(schema)
}

// schemaToMap renders a schema as a plain map: marshal
// then unmarshal through encoding/json so every jsonschema.Schema
// internal (ordered properties, omitempty) renders the same way it
// would over the wire, then strip the $schema/$id noise an inline
// per-command schema doesn't need.
func schemaToMap(schema *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
