// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the config file schema.
const SchemaID = "https://holomush.dev/schemas/clanwar-config.schema.json"

// durationPattern matches the strings time.ParseDuration accepts.
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// decimalPattern matches a non-negative decimal written as a string.
const decimalPattern = `^[0-9]+(\.[0-9]+)?$`

var durationType = reflect.TypeOf(time.Duration(0))

// Schema returns the JSON Schema of the config file. Every key is optional
// and unknown keys are rejected.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		FieldNameTag:               "koanf",
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case durationType:
				return &jsonschema.Schema{Type: "string", Pattern: durationPattern}
			case decimalType:
				return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{
					{Type: "number", Minimum: json.Number("0")},
					{Type: "string", Pattern: decimalPattern},
				}}
			}
			return nil
		},
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "clanwar configuration"
	schema.Description = "Schema for clanwar YAML config files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	return data, nil
}

var compiledSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	raw, err := Schema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	c := jschema.NewCompiler()
	if err := c.AddResource(SchemaID, doc); err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	sch, err := c.Compile(SchemaID)
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	return sch, nil
})

// ValidateYAML checks a config file body against Schema. An empty document
// is valid.
func ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").Wrapf(err, "invalid YAML")
	}
	if doc == nil {
		return nil
	}

	// Round-trip through JSON so numbers reach the validator as json.Number.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").Wrapf(err, "config is not representable as JSON")
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").Wrap(err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").Wrap(err)
	}
	return nil
}
