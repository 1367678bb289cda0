package nlp

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const classificationSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["intent"],
  "properties": {
    "intent": {"type": "string", "minLength": 1},
    "entities": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "seasonNumber": {"type": ["integer", "null"], "minimum": 0},
        "episodeNumber": {"type": ["integer", "null"], "minimum": 0},
        "type": {"type": ["string", "null"]},
        "limit": {"type": ["integer", "null"], "minimum": 0},
        "profile": {"type": ["string", "null"]}
      }
    },
    "reference": {"type": ["string", "null"]}
  }
}`

const resolveSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["best"],
  "properties": {
    "best": {
      "oneOf": [
        {"const": "none"},
        {
          "type": "object",
          "required": ["title"],
          "properties": {
            "title": {"type": "string"},
            "season": {"type": "integer"},
            "episode": {"type": "integer"}
          }
        }
      ]
    }
  }
}`

var (
	classificationSchema = jsonschema.MustCompileString("classification.json", classificationSchemaJSON)
	resolveSchema        = jsonschema.MustCompileString("resolve.json", resolveSchemaJSON)
)

// decodeValidated validates raw against schema and decodes it into out.
// Every failure wraps ErrMalformedOutput.
func decodeValidated(schema *jsonschema.Schema, raw string, out any) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: %v (raw content: %.200s)", ErrMalformedOutput, err, raw)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}
