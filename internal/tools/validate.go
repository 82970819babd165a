package tools

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator compiles and caches each tool's parameter schema, so a
// hot-path call pays compilation cost once per process rather than once
// per invocation.
type schemaValidator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{cached: make(map[string]*jsonschema.Schema)}
}

// compile returns the compiled schema for a tool definition, compiling and
// caching it on first use. A definition with no schema has nothing to
// validate against, so it returns (nil, nil).
func (v *schemaValidator) compile(def *Definition) (*jsonschema.Schema, error) {
	if len(def.Schema) == 0 {
		return nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if sch, ok := v.cached[def.QualifiedName]; ok {
		return sch, nil
	}

	resource := def.QualifiedName + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, bytes.NewReader(def.Schema)); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", def.QualifiedName, err)
	}
	sch, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", def.QualifiedName, err)
	}
	v.cached[def.QualifiedName] = sch
	return sch, nil
}

// validate checks decoded arguments against def's declared parameter
// schema, if any. A definition with a malformed schema fails closed: the
// call is rejected rather than silently skipping validation.
func (v *schemaValidator) validate(def *Definition, decoded any) error {
	sch, err := v.compile(def)
	if err != nil {
		return err
	}
	if sch == nil {
		return nil
	}
	return sch.Validate(decoded)
}
