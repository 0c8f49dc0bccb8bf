package live

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// requestSchema describes one client message of a live session.
const requestSchema = `{
  "type": "object",
  "minProperties": 1,
  "additionalProperties": false,
  "properties": {
    "content": {
      "type": "object",
      "properties": {
        "role": {"type": "string"},
        "parts": {"type": "array", "items": {"type": "object"}}
      },
      "required": ["parts"]
    },
    "blob": {
      "type": "object",
      "properties": {
        "mimeType": {"type": "string", "minLength": 1},
        "data": {"type": "string"}
      },
      "required": ["mimeType", "data"]
    },
    "activity_start": {"type": "object"},
    "activity_end": {"type": "object"},
    "close": {"type": "boolean"}
  }
}`

// Validator checks raw client messages against the live request schema.
type Validator struct {
	schema *gojsonschema.Schema
}

func NewValidator() *Validator {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid live request schema: %v", err))
	}
	return &Validator{schema: schema}
}

// Validate returns an error listing every schema violation of data.
func (v *Validator) Validate(data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("malformed live request: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return errors.New("invalid live request: " + strings.Join(problems, "; "))
}
