package config

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed daemon.schema.json
var schemaFS embed.FS

const schemaURL = "mem://schemas/daemon.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := schemaFS.ReadFile("daemon.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("read daemon schema: %w", err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = fmt.Errorf("decode daemon schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("register daemon schema: %w", err)
			return
		}
		s, err := c.Compile(schemaURL)
		if err != nil {
			compileErr = fmt.Errorf("compile daemon schema: %w", err)
			return
		}
		compiled = s
	})
	return compiled, compileErr
}

// Validate checks a decoded config document (as a generic map, the shape
// jsonschema/v6 expects) against the embedded daemon schema.
func Validate(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	return s.Validate(doc)
}
