package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	descriptorSchemaName = "descriptor.schema.json"
	configSchemaName     = "config.schema.json"
)

// ValidateAgainstSchema compiles schema under name and validates data
// (a JSON document) against it. ref optionally selects a sub-schema such as
// "#/$defs/sha256".
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s%s: %w", name, ref, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("schema validation against %s failed:\n%s", name, formatValidationError(verr))
		}
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}

// ValidateDescriptorJSON validates a formula descriptor rendered as JSON.
func ValidateDescriptorJSON(data []byte) error {
	return validateEmbedded(descriptorSchemaName, data)
}

// ValidateConfigJSON validates the global configuration rendered as JSON.
func ValidateConfigJSON(data []byte) error {
	return validateEmbedded(configSchemaName, data)
}

func validateEmbedded(name string, data []byte) error {
	schema, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return fmt.Errorf("reading embedded schema %s: %w", name, err)
	}
	return ValidateAgainstSchema(name, schema, data, "")
}

// formatValidationError flattens the nested causes into one line per leaf.
func formatValidationError(verr *jsonschema.ValidationError) string {
	var buf bytes.Buffer
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			fmt.Fprintf(&buf, "  - %s: %s\n", loc, e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return buf.String()
}
