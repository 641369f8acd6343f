package tables

// tableSchema is the JSON Schema every table file must satisfy before it is
// compiled. Semantic checks (regex syntax, priority labels) happen in
// engine.Validate.
const tableSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "default_label", "categories"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "default_label": {"$ref": "#/$defs/label"},
    "priority": {"type": "array", "items": {"$ref": "#/$defs/label"}, "uniqueItems": true},
    "categories": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["label"],
        "properties": {
          "label": {"$ref": "#/$defs/label"},
          "keywords": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["term", "weight"],
              "properties": {
                "term": {"type": "string", "minLength": 1},
                "weight": {"type": "number", "exclusiveMinimum": 0}
              }
            }
          },
          "patterns": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["pattern", "weight"],
              "properties": {
                "id": {"type": "string"},
                "pattern": {"type": "string", "minLength": 1},
                "weight": {"type": "number", "exclusiveMinimum": 0}
              }
            }
          }
        }
      }
    },
    "punctuation": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["mark", "label", "weight"],
        "properties": {
          "mark": {"type": "string", "minLength": 1},
          "label": {"$ref": "#/$defs/label"},
          "weight": {"type": "number", "exclusiveMinimum": 0},
          "max_count": {"type": "integer", "minimum": 0}
        }
      }
    }
  },
  "$defs": {
    "label": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"}
  }
}`
