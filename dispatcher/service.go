package dispatcher

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// RegisterService registers every exported method of rcvr that has the shape
//
//	func (r *T) Name([ctx context.Context,] args P) ([R,] [error])
//
// where P is a struct. P's exported fields form the parameter schema: the
// json tag names them, and a jarpc tag selects the origin.
//
//	type SumArgs struct {
//		A     int            `json:"a"`
//		B     int            `json:"b" jarpc:"optional"`
//		App   *App           `json:"app" jarpc:"context"`
//		Req   *message.Request `jarpc:"request"`
//		Other map[string]any `jarpc:"extra"`
//	}
//
// Methods are registered as "namespace.snake_name", or "snake_name" when
// namespace is empty. Methods of any other shape are skipped.
func (d *Dispatcher) RegisterService(namespace string, rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dispatcher: receiver must be a pointer to a struct, got %T", rcvr)
	}
	val := reflect.ValueOf(rcvr)

	var methods []*Method
	for i := 0; i < typ.NumMethod(); i++ {
		mt := typ.Method(i)
		argType, ok := serviceArgType(mt.Type)
		if !ok {
			continue
		}
		params, err := structParams(argType)
		if err != nil {
			return fmt.Errorf("dispatcher: %s.%s: %w", typ.Elem().Name(), mt.Name, err)
		}
		name := snake(mt.Name)
		if namespace != "" {
			name = namespace + "." + name
		}
		m, err := newStructMethod(name, val.Method(i), argType, params)
		if err != nil {
			return err
		}
		methods = append(methods, m)
	}
	if len(methods) == 0 {
		return fmt.Errorf("dispatcher: %s has no methods suitable for registration", typ.Elem().Name())
	}
	for _, m := range methods {
		if err := d.add(m); err != nil {
			return err
		}
	}
	return nil
}

// serviceArgType checks the method type (receiver included) and returns the
// argument struct type.
func serviceArgType(mt reflect.Type) (reflect.Type, bool) {
	in := mt.NumIn()
	var arg reflect.Type
	switch {
	case in == 2:
		arg = mt.In(1)
	case in == 3 && mt.In(1) == contextType:
		arg = mt.In(2)
	default:
		return nil, false
	}
	if arg.Kind() != reflect.Struct {
		return nil, false
	}
	switch mt.NumOut() {
	case 0:
	case 1:
	case 2:
		if mt.Out(1) != errorType {
			return nil, false
		}
	default:
		return nil, false
	}
	return arg, true
}

func structParams(t reflect.Type) ([]Param, error) {
	var params []Param
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		p := Param{Name: name, Origin: OriginCaller, Required: true, field: f.Index}
		switch tag := f.Tag.Get("jarpc"); tag {
		case "":
		case "optional":
			p.Required = false
		case "context":
			p.Origin = OriginContext
		case "request":
			p.Origin = OriginRequest
		case "extra":
			p.Origin = OriginExtra
			p.Name = ""
			p.Required = false
		default:
			return nil, fmt.Errorf("field %s: unknown jarpc tag %q", f.Name, tag)
		}
		if p.Origin == OriginRequest {
			p.Required = false
		}
		p.Type = f.Type
		params = append(params, p)
	}
	return params, nil
}

func newStructMethod(name string, fn reflect.Value, argType reflect.Type, params []Param) (*Method, error) {
	m := &Method{Name: name, fn: fn, params: params}
	ft := fn.Type()
	m.withCtx = ft.NumIn() == 2
	for _, p := range params {
		if err := checkParam(name, p); err != nil {
			return nil, err
		}
	}
	if err := m.checkNames(); err != nil {
		return nil, err
	}
	if err := m.setResults(ft); err != nil {
		return nil, err
	}
	m.pack = func(args []reflect.Value) []reflect.Value {
		s := reflect.New(argType).Elem()
		for i, p := range m.params {
			s.FieldByIndex(p.field).Set(args[i])
		}
		return []reflect.Value{s}
	}
	return m, nil
}

// snake converts a Go method name to snake_case: GetResult -> get_result,
// HTTPStatus -> http_status.
func snake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
