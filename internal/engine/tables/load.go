package tables

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(tableSchema))
		if err != nil {
			schemaErr = fmt.Errorf("table schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("table.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("table schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("table.schema.json")
	})
	return schema, schemaErr
}

// Load reads a table file. The format follows the extension: .toml is TOML,
// anything else is JSON. The document is schema-validated and then checked by
// engine.Validate.
func Load(path string) (*engine.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = tomlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("Load %s: %w", path, err)
		}
	}

	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Load %s: %w", path, err)
	}
	return t, nil
}

// Parse validates and decodes a JSON table document.
func Parse(data []byte) (*engine.Table, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("table is not valid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("table schema validation failed: %w", err)
	}

	var t engine.Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("table decode: %w", err)
	}
	if err := engine.Validate(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// tomlToJSON re-encodes a TOML document as JSON so both formats share one
// validation path.
func tomlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("toml decode: %w", err)
	}
	return json.Marshal(doc)
}
