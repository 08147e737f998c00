package rulepack

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// packSchema is the structural contract every pack document must satisfy
// before compilation. Rejecting malformed packs here keeps activation
// all-or-nothing: a pack that fails the schema never reaches the store.
const packSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "jurisdiction", "profile", "version", "sections"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "jurisdiction": {"type": "string", "minLength": 1},
    "profile": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "fields"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "fields": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["path", "type"],
              "properties": {
                "path": {"type": "string", "minLength": 1},
                "label": {"type": "string"},
                "type": {"enum": ["string", "number", "boolean", "datetime", "list", "object"]},
                "required": {
                  "type": "object",
                  "properties": {
                    "always": {"type": "boolean"},
                    "if": {"type": "string"}
                  }
                },
                "advisory": {"type": "boolean"},
                "valueSetRef": {"type": "string"},
                "notBefore": {"type": "string"}
              }
            }
          },
          "presenceChecks": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["listPath", "message"],
              "properties": {
                "listPath": {"type": "string", "minLength": 1},
                "entryField": {"type": "string"},
                "minEntries": {"type": "integer", "minimum": 0},
                "message": {"type": "string", "minLength": 1}
              }
            }
          }
        }
      }
    },
    "valueSets": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {"type": "string"}
      }
    }
  }
}`

var compiledPackSchema = jsonschema.MustCompileString("rulepack.schema.json", packSchema)

// ValidateDocument checks a raw pack document against the pack schema.
func ValidateDocument(doc []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("rulepack: document is not valid JSON: %w", err)
	}
	if err := compiledPackSchema.Validate(v); err != nil {
		return fmt.Errorf("rulepack: document rejected by schema: %w", err)
	}
	return nil
}

// Parse validates and decodes a raw pack document.
func Parse(doc []byte) (*RulePack, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	var p RulePack
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("rulepack: decode failed: %w", err)
	}
	return &p, nil
}
