package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/util"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator compiles and caches JSON Schema documents attached to
// tables. The cache is keyed by content hash so an updated document
// recompiles without a restart.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*js.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*js.Schema)}
}

func (v *SchemaValidator) compile(doc string) (*js.Schema, error) {
	key := util.Hash(doc)
	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.cache[key]; ok {
		return schema, nil
	}
	compiler := js.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("error adding schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("error compiling schema: %w", err)
	}
	v.cache[key] = schema
	return schema, nil
}

func flattenCauses(err *js.ValidationError) []internal.FieldError {
	if len(err.Causes) == 0 {
		field := strings.ReplaceAll(strings.TrimPrefix(err.InstanceLocation, "/"), "/", ".")
		return []internal.FieldError{internal.NewFieldError(field, err.Message)}
	}
	var res []internal.FieldError
	for _, cause := range err.Causes {
		res = append(res, flattenCauses(cause)...)
	}
	return res
}

// Check compiles the document without validating anything against it, so a
// broken schema is rejected when it is attached instead of on the first
// insert.
func (v *SchemaValidator) Check(doc string) error {
	_, err := v.compile(doc)
	return err
}

// Validate checks data against a JSON Schema document, translating schema
// violations into field errors.
func (v *SchemaValidator) Validate(doc string, data map[string]any) error {
	schema, err := v.compile(doc)
	if err != nil {
		return fmt.Errorf("error compiling table schema: %w", err)
	}
	if err := schema.Validate(data); err != nil {
		if verr, ok := err.(*js.ValidationError); ok {
			return internal.NewValidationError(flattenCauses(verr)...)
		}
		return err
	}
	return nil
}
