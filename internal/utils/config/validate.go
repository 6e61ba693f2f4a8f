package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config_schema.json
var configSchema []byte

// ValidateAgainstSchema checks a JSON document against a JSON schema. name
// identifies the schema in error messages; ref optionally selects a fragment
// within the schema.
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("adding schema resource %s: %v", name, err)
	}

	target := name
	if ref != "" {
		target = name + ref
	}
	sch, err := compiler.Compile(target)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %v", name, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing document: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %v", err)
	}
	return nil
}

// ValidateConfigJSON checks a tool configuration document against the
// embedded config schema.
func ValidateConfigJSON(data []byte) error {
	return ValidateAgainstSchema("config_schema.json", configSchema, data, "")
}
