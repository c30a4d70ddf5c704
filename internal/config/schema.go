// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

//go:generate go run ../../cmd/gen-schema -o ../../schemas/credpolicy.schema.json

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated config schema.
const SchemaID = "https://holomush.dev/schemas/credpolicy.schema.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compiledErr    error
)

// GenerateSchema returns the JSON Schema of the config file.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Settings{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "credpolicy configuration"
	schema.Description = "Schema for credpolicy config.yaml files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

func compiled() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			compiledErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compiledErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID, doc); err != nil {
			compiledErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		compiledSchema, compiledErr = c.Compile(SchemaID)
		if compiledErr != nil {
			compiledErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(compiledErr)
		}
	})
	return compiledSchema, compiledErr
}

// ValidateSchema validates YAML config data against the generated schema.
// An empty document is valid.
func ValidateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_INVALID_YAML").Wrap(err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	// Round-trip through JSON so numbers and maps have the types the
	// validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("CONFIG_INVALID_YAML").Wrap(err)
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return oops.Code("CONFIG_INVALID_YAML").Wrap(err)
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return oops.Code("CONFIG_SCHEMA_VIOLATION").Wrap(err)
	}
	return nil
}
