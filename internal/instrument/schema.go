package instrument

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const definitionSchema = `{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "pattern": "^[A-Za-z0-9.]+$"},
    "label": {"type": "string"},
    "sec_type": {"type": "string", "minLength": 1},
    "exchange": {"type": "string", "minLength": 1},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
    "include_expired": {"type": "boolean"},
    "roll": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["code", "month", "cutoff_day"],
        "properties": {
          "code": {"type": "string", "pattern": "^[FGHJKMNQUVXZ]$"},
          "month": {"type": "integer", "minimum": 1, "maximum": 12},
          "cutoff_day": {"type": "integer", "minimum": 1, "maximum": 31}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("instrument.json", strings.NewReader(definitionSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("instrument.json")
	})
	return schemaCompiled, schemaErr
}

// validateDefinition checks def against the instrument schema.
func validateDefinition(name string, def Definition) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile instrument schema: %w", err)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("instrument %s: %w", name, err)
	}
	return def.Roll.validate()
}
