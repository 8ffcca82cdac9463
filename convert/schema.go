package convert

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator is the typed-model boundary: it turns a mapping into a populated
// value of a struct type, or reports which fields are wrong.
type Validator interface {
	Validate(data map[string]any, target reflect.Type) (reflect.Value, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(data map[string]any, target reflect.Type) (reflect.Value, error)

func (f ValidatorFunc) Validate(data map[string]any, target reflect.Type) (reflect.Value, error) {
	return f(data, target)
}

// ModelError is returned by SchemaValidator when data does not fit the model.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// SchemaValidator infers a JSON Schema from each struct type on first use and
// validates incoming mappings against it before decoding. Fields without
// omitempty are required and unknown fields are rejected.
type SchemaValidator struct {
	mu      sync.Mutex
	schemas map[reflect.Type]*jsonschema.Resolved
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{schemas: make(map[reflect.Type]*jsonschema.Resolved)}
}

func (v *SchemaValidator) resolved(t reflect.Type) (*jsonschema.Resolved, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rs, ok := v.schemas[t]; ok {
		return rs, nil
	}
	schema, err := jsonschema.ForType(t, &jsonschema.ForOptions{IgnoreInvalidTypes: true})
	if err != nil {
		return nil, err
	}
	rs, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}
	v.schemas[t] = rs
	return rs, nil
}

func (v *SchemaValidator) Validate(data map[string]any, target reflect.Type) (reflect.Value, error) {
	rs, err := v.resolved(target)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("schema for %s: %w", target, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return reflect.Value{}, &ModelError{Model: target.Name(), Err: err}
	}
	// The validator wants plain JSON values, so work on a freshly decoded copy.
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return reflect.Value{}, &ModelError{Model: target.Name(), Err: err}
	}
	if err := rs.Validate(instance); err != nil {
		return reflect.Value{}, &ModelError{Model: target.Name(), Err: err}
	}
	out := reflect.New(target)
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return reflect.Value{}, &ModelError{Model: target.Name(), Err: err}
	}
	return out.Elem(), nil
}
