package goecharger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

const schemaURL = "goecharger-status.json"

// statusSchema covers the fields the bridge reads from /status. The charger
// sends most scalars as strings, so numeric fields accept both forms.
const statusSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nrg", "amp", "eto", "tmp", "car"],
  "properties": {
    "nrg": {
      "type": "array",
      "minItems": 12,
      "items": {"type": "number"}
    },
    "amp": {"$ref": "#/$defs/integer"},
    "tmp": {"$ref": "#/$defs/integer"},
    "car": {"$ref": "#/$defs/integer"},
    "eto": {"$ref": "#/$defs/decimal"}
  },
  "$defs": {
    "integer": {
      "anyOf": [
        {"type": "number"},
        {"type": "string", "pattern": "^\\s*[-+]?[0-9]+\\s*$"}
      ]
    },
    "decimal": {
      "anyOf": [
        {"type": "number"},
        {"type": "string", "pattern": "^\\s*[-+]?([0-9]+\\.?[0-9]*|\\.[0-9]+)\\s*$"}
      ]
    },
    "identity": {
      "type": "object",
      "required": ["fwv", "sse"],
      "properties": {
        "fwv": {"type": "string", "pattern": "^[0-9.]*[0-9][0-9.]*$"},
        "sse": {"type": ["string", "number"]}
      }
    }
  }
}`

var (
	telemetrySchema *jsonschema.Schema
	identitySchema  *jsonschema.Schema
)

func init() {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(statusSchema))
	if err != nil {
		panic(fmt.Sprintf("goecharger: parse status schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("goecharger: add status schema: %v", err))
	}
	telemetrySchema = c.MustCompile(schemaURL)
	identitySchema = c.MustCompile(schemaURL + "#/$defs/identity")
}

// validate checks raw against schema and converts a violation into a
// NormalizeError naming the first offending field.
func validate(schema *jsonschema.Schema, raw RawTelemetry) error {
	err := schema.Validate(map[string]any(raw))
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &NormalizeError{Err: err}
	}
	leaf := firstLeaf(verr)
	return &NormalizeError{Field: fieldOf(leaf), Err: errors.New(leaf.Error())}
}

func firstLeaf(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}

func fieldOf(verr *jsonschema.ValidationError) string {
	if req, ok := verr.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		return req.Missing[0]
	}
	return strings.Join(verr.InstanceLocation, "/")
}
