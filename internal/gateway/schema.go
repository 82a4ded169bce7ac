package gateway

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[Function]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() {
	schemas = make(map[Function]*jsonschema.Schema, len(allFunctions))
	for _, fn := range allFunctions {
		name := "schemas/" + string(fn) + ".json"
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			schemasErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			schemasErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			schemasErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		schemas[fn] = compiled
	}
}

// decode extracts, validates and unmarshals a model answer for fn into out.
func decode(fn Function, text string, out any) error {
	schemasOnce.Do(compileSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	raw, ok := extractJSONObject(text)
	if !ok {
		return &SchemaViolationError{Function: fn, Raw: text, Err: errNoJSON}
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return &SchemaViolationError{Function: fn, Raw: text, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if err := schemas[fn].Validate(doc); err != nil {
		return &SchemaViolationError{Function: fn, Raw: text, Err: err}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &SchemaViolationError{Function: fn, Raw: text, Err: err}
	}
	return nil
}
