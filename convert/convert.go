// Package convert coerces untyped value trees, as produced by a codec, into
// the Go types a method declares for its parameters and result.
//
// Rules, applied recursively:
//
//   - bool, string and numeric kinds accept only a value that already has that
//     shape; integers must be integral and fit the target.
//   - structs are delegated to a Validator.
//   - registered union interfaces try their candidates in order.
//   - pointers accept null and otherwise convert their element.
//   - slices, arrays and string-keyed maps convert element by element.
//   - the empty interface accepts anything.
//
// Every failure is a ParseError naming the path of the offending value.
package convert

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"jarpc/internal/jsonnum"
	"jarpc/rpcerr"
)

var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()

// Engine converts values. The zero value is not usable; call New.
type Engine struct {
	validator Validator

	mu     sync.RWMutex
	unions map[reflect.Type][]reflect.Type
}

// New returns an engine that delegates structs to v. A nil v selects the
// JSON Schema backed validator.
func New(v Validator) *Engine {
	if v == nil {
		v = NewSchemaValidator()
	}
	return &Engine{validator: v, unions: make(map[reflect.Type][]reflect.Type)}
}

// RegisterUnion declares iface as a union of the candidate types, tried in
// the given order. Each candidate must implement iface.
func (e *Engine) RegisterUnion(iface reflect.Type, candidates ...reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("convert: union %s is not an interface type", iface)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("convert: union %s has no candidates", iface)
	}
	for _, c := range candidates {
		if !c.Implements(iface) {
			return fmt.Errorf("convert: %s does not implement union %s", c, iface)
		}
	}
	e.mu.Lock()
	e.unions[iface] = append([]reflect.Type(nil), candidates...)
	e.mu.Unlock()
	return nil
}

func (e *Engine) union(t reflect.Type) ([]reflect.Type, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.unions[t]
	return c, ok
}

// Convert coerces v into a value of type t.
func (e *Engine) Convert(v any, t reflect.Type) (reflect.Value, error) {
	out, err := e.convert(v, t, "")
	if err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

// ConvertNamed is Convert for a named value; errors are reported under name.
func (e *Engine) ConvertNamed(v any, t reflect.Type, name string) (reflect.Value, error) {
	return e.convert(v, t, name)
}

// ConvertParams converts each named value into its declared type. Names
// without a declared type are passed through unchanged.
func (e *Engine) ConvertParams(params map[string]any, types map[string]reflect.Type) (map[string]reflect.Value, error) {
	out := make(map[string]reflect.Value, len(params))
	for name, v := range params {
		t, ok := types[name]
		if !ok {
			t = anyType
		}
		cv, err := e.convert(v, t, name)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

// ConvertResult checks a method's return value against its declared type.
// Typed values pass through; untyped trees returned where a concrete type is
// declared are converted; union members must be one of the candidates.
func (e *Engine) ConvertResult(v reflect.Value, t reflect.Type) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if candidates, ok := e.union(t); ok {
		for _, c := range candidates {
			if v.Type() == c {
				return v.Interface(), nil
			}
		}
		return nil, e.unionError(v.Interface(), t, candidates, "result")
	}
	if t.Kind() == reflect.Interface || v.Type().AssignableTo(t) {
		return v.Interface(), nil
	}
	cv, err := e.convert(v.Interface(), t, "result")
	if err != nil {
		return nil, err
	}
	return cv.Interface(), nil
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

func (e *Engine) convert(v any, t reflect.Type, path string) (reflect.Value, error) {
	if t.Kind() == reflect.Interface {
		return e.convertInterface(v, t, path)
	}
	if t.Kind() == reflect.Pointer {
		if v == nil {
			return reflect.Zero(t), nil
		}
		elem, err := e.convert(v, t.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}
	if v == nil {
		return reflect.Value{}, mismatch(path, v, t)
	}
	if reflect.TypeOf(v) == t {
		return reflect.ValueOf(v), nil
	}
	if reflect.PointerTo(t).Implements(unmarshalerType) {
		return viaJSON(v, t, path)
	}

	switch t.Kind() {
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, mismatch(path, v, t)
		}
		return reflect.ValueOf(b).Convert(t), nil

	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, mismatch(path, v, t)
		}
		return reflect.ValueOf(s).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := jsonnum.Int64(v)
		out := reflect.New(t).Elem()
		if !ok || out.OverflowInt(i) {
			return reflect.Value{}, mismatch(path, v, t)
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, ok := jsonnum.Uint64(v)
		out := reflect.New(t).Elem()
		if !ok || out.OverflowUint(u) {
			return reflect.Value{}, mismatch(path, v, t)
		}
		out.SetUint(u)
		return out, nil

	case reflect.Float32, reflect.Float64:
		f, ok := jsonnum.Float64(v)
		out := reflect.New(t).Elem()
		if !ok || out.OverflowFloat(f) {
			return reflect.Value{}, mismatch(path, v, t)
		}
		out.SetFloat(f)
		return out, nil

	case reflect.Struct:
		m, ok := v.(map[string]any)
		if !ok {
			return reflect.Value{}, mismatch(path, v, t)
		}
		out, err := e.validator.Validate(m, t)
		if err != nil {
			return reflect.Value{}, rpcerr.ParseError(fmt.Sprintf("%s: %v", label(path, t), err))
		}
		return out, nil

	case reflect.Slice, reflect.Array:
		items, ok := sequence(v)
		if !ok {
			return reflect.Value{}, mismatch(path, v, t)
		}
		var out reflect.Value
		if t.Kind() == reflect.Array {
			if len(items) != t.Len() {
				return reflect.Value{}, rpcerr.ParseError(fmt.Sprintf("%s: expected %d items, got %d", label(path, t), t.Len(), len(items)))
			}
			out = reflect.New(t).Elem()
		} else {
			out = reflect.MakeSlice(t, len(items), len(items))
		}
		for i, item := range items {
			ev, err := e.convert(item, t.Elem(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return reflect.Value{}, rpcerr.ParseError(fmt.Sprintf("%s: map keys must be strings", label(path, t)))
		}
		m, ok := v.(map[string]any)
		if !ok {
			return reflect.Value{}, mismatch(path, v, t)
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, item := range m {
			ev, err := e.convert(item, t.Elem(), join(path, k))
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return out, nil
	}
	return reflect.Value{}, rpcerr.ParseError(fmt.Sprintf("%s: unsupported type", label(path, t)))
}

func (e *Engine) convertInterface(v any, t reflect.Type, path string) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if candidates, ok := e.union(t); ok {
		for _, c := range candidates {
			cv, err := e.convert(v, c, path)
			if err == nil {
				out.Set(cv)
				return out, nil
			}
		}
		return reflect.Value{}, e.unionError(v, t, candidates, path)
	}
	if v == nil {
		return out, nil
	}
	if t.NumMethod() == 0 {
		out.Set(reflect.ValueOf(jsonnum.Normalize(v)))
		return out, nil
	}
	if !reflect.TypeOf(v).Implements(t) {
		return reflect.Value{}, mismatch(path, v, t)
	}
	out.Set(reflect.ValueOf(v))
	return out, nil
}

func (e *Engine) unionError(v any, t reflect.Type, candidates []reflect.Type, path string) error {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.String()
	}
	return rpcerr.ParseError(fmt.Sprintf("%s: cannot convert %s to any of [%s]",
		label(path, t), describe(v), strings.Join(names, ", ")))
}

func viaJSON(v any, t reflect.Type, path string) (reflect.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, rpcerr.ParseError(fmt.Sprintf("%s: %v", label(path, t), err))
	}
	p := reflect.New(t)
	if err := json.Unmarshal(b, p.Interface()); err != nil {
		return reflect.Value{}, rpcerr.ParseError(fmt.Sprintf("%s: %v", label(path, t), err))
	}
	return p.Elem(), nil
}

func sequence(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func mismatch(path string, v any, t reflect.Type) error {
	return rpcerr.ParseError(fmt.Sprintf("%s: expected %s, got %s", label(path, t), t, describe(v)))
}

func label(path string, t reflect.Type) string {
	if path == "" {
		return t.String()
	}
	return path
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	if jsonnum.Is(v) {
		return fmt.Sprintf("number %v", v)
	}
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("string %q", t)
	case bool:
		return fmt.Sprintf("bool %t", t)
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
