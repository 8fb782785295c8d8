// Package schemaspec validates generated database-schema documents against
// the structural contract clients depend on: a tables array where every table
// names its columns and every column carries a name and a type.
package schemaspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// tableSchema is the JSON Schema every generated schema document must satisfy
// before it is cached or returned to a client.
const tableSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tables"],
  "properties": {
    "tables": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "columns"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "columns": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "type": {"type": "string", "minLength": 1},
                "nullable": {"type": "boolean"},
                "primaryKey": {"type": "boolean"}
              }
            }
          },
          "indexes": {"type": "array"}
        }
      }
    },
    "notes": {"type": "string"}
  }
}`

// Validator checks schema documents against the table-schema contract.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the table-schema contract.
func NewValidator() (*Validator, error) {
	// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(tableSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal table schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tables.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("tables.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidationError describes a document that failed the table-schema contract.
type ValidationError struct {
	Message string
	Raw     string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks a schema document. A nil return means the document is safe
// to cache and return.
func (v *Validator) Validate(doc json.RawMessage) error {
	// jsonschema.UnmarshalJSON yields json.Number instead of float64, which
	// the validator requires.
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(doc)))
	if err != nil {
		return &ValidationError{
			Message: fmt.Sprintf("invalid JSON: %s", err),
			Raw:     string(doc),
		}
	}

	if err := v.schema.Validate(parsed); err != nil {
		return &ValidationError{
			Message: fmt.Sprintf("schema validation failed: %s", err),
			Raw:     string(doc),
		}
	}
	return nil
}

// Format canonicalizes a validated schema document for caching and delivery
// with stable two-space indentation.
func Format(doc json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return nil, fmt.Errorf("format schema: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
