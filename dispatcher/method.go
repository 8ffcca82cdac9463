package dispatcher

import (
	"context"
	"fmt"
	"reflect"

	"jarpc/convert"
	"jarpc/message"
	"jarpc/rpcctx"
	"jarpc/rpcerr"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	requestType = reflect.TypeOf((*message.Request)(nil))
)

// Method is a registered callable together with its parameter schema, which
// is derived once at registration.
type Method struct {
	Name string

	fn       reflect.Value
	withCtx  bool
	params   []Param
	result   reflect.Type // nil when the method returns only an error or nothing
	errIndex int          // index of the error result, -1 if none

	// pack turns bound values (one per param) into the call arguments. nil
	// means one argument per param in declaration order.
	pack func([]reflect.Value) []reflect.Value
}

// Params returns the declared parameters.
func (m *Method) Params() []Param {
	return append([]Param(nil), m.params...)
}

// ResultType is the declared type of the method's result, or nil.
func (m *Method) ResultType() reflect.Type {
	return m.result
}

func newMethod(name string, fn reflect.Value, params []Param) (*Method, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("dispatcher: %s: callable must be a non-nil func, got %s", name, fn.Kind())
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("dispatcher: %s: variadic funcs are not supported", name)
	}
	m := &Method{Name: name, fn: fn}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		m.withCtx = true
		first = 1
	}
	if ft.NumIn()-first != len(params) {
		return nil, fmt.Errorf("dispatcher: %s: func takes %d arguments but %d params are declared", name, ft.NumIn()-first, len(params))
	}
	m.params = make([]Param, len(params))
	for i, p := range params {
		p.Type = ft.In(first + i)
		if err := checkParam(name, p); err != nil {
			return nil, err
		}
		m.params[i] = p
	}
	if err := m.checkNames(); err != nil {
		return nil, err
	}
	if err := m.setResults(ft); err != nil {
		return nil, err
	}
	return m, nil
}

func checkParam(method string, p Param) error {
	switch p.Origin {
	case OriginCaller, OriginContext:
		if p.Name == "" {
			return fmt.Errorf("dispatcher: %s: parameter without a name", method)
		}
		if p.Name == rpcctx.RequestParam {
			return fmt.Errorf("dispatcher: %s: %q is reserved for the raw request", method, p.Name)
		}
		if p.Default != nil && !reflect.TypeOf(p.Default).AssignableTo(p.Type) {
			return fmt.Errorf("dispatcher: %s: default for %q is %T, not %s", method, p.Name, p.Default, p.Type)
		}
	case OriginRequest:
		if p.Type != requestType {
			return fmt.Errorf("dispatcher: %s: raw request parameter must be %s, got %s", method, requestType, p.Type)
		}
	case OriginExtra:
		if p.Type.Kind() != reflect.Map || p.Type.Key().Kind() != reflect.String {
			return fmt.Errorf("dispatcher: %s: extra parameter must be a string-keyed map, got %s", method, p.Type)
		}
	default:
		return fmt.Errorf("dispatcher: %s: unknown origin %d", method, p.Origin)
	}
	return nil
}

func (m *Method) checkNames() error {
	seen := make(map[string]bool, len(m.params))
	extras := 0
	for _, p := range m.params {
		if p.Origin == OriginExtra {
			extras++
			continue
		}
		if p.Name == "" {
			continue
		}
		if seen[p.Name] {
			return fmt.Errorf("dispatcher: %s: parameter %q declared twice", m.Name, p.Name)
		}
		seen[p.Name] = true
	}
	if extras > 1 {
		return fmt.Errorf("dispatcher: %s: only one extra parameter is allowed", m.Name)
	}
	return nil
}

func (m *Method) setResults(ft reflect.Type) error {
	m.errIndex = -1
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			m.errIndex = 0
		} else {
			m.result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errorType {
			return fmt.Errorf("dispatcher: %s: second result must be error", m.Name)
		}
		m.result = ft.Out(0)
		m.errIndex = 1
	default:
		return fmt.Errorf("dispatcher: %s: too many results", m.Name)
	}
	return nil
}

// Injection holds the values a call can draw on besides its params.
type Injection struct {
	Context rpcctx.Static
	Request *message.Request
}

func (inj Injection) reserved(ctx context.Context) func(string) bool {
	return func(name string) bool {
		return name == rpcctx.RequestParam || inj.Context.Has(ctx, name)
	}
}

// CheckCall reports whether supplied fits the method's signature given the
// injection. The explanation is suitable for InvalidParams.
func (m *Method) CheckCall(ctx context.Context, supplied map[string]any, inj Injection) (bool, string) {
	return Diagnose(m.params, supplied, inj.reserved(ctx))
}

// Bind resolves every parameter. Injected values take precedence in the
// order raw request, context, caller. A caller param naming an injected
// parameter is a plain error; a signature mismatch is InvalidParams; a value
// that cannot be converted is ParseError.
func (m *Method) Bind(ctx context.Context, supplied map[string]any, inj Injection, conv *convert.Engine) ([]reflect.Value, error) {
	for _, p := range m.params {
		if p.Origin != OriginContext && p.Origin != OriginRequest {
			continue
		}
		if _, ok := supplied[p.Name]; ok {
			return nil, fmt.Errorf("argument %q of %s is provided by context and must not be passed by the caller", p.Name, m.Name)
		}
	}
	if ok, explanation := m.CheckCall(ctx, supplied, inj); !ok {
		return nil, rpcerr.InvalidParams(explanation)
	}

	declared := make(map[string]bool, len(m.params))
	for _, p := range m.params {
		declared[p.Name] = true
	}

	args := make([]reflect.Value, len(m.params))
	for i, p := range m.params {
		var (
			v   reflect.Value
			err error
		)
		switch p.Origin {
		case OriginRequest:
			v = reflect.ValueOf(inj.Request)
		case OriginContext:
			raw, _ := inj.Context.Lookup(ctx, p.Name)
			v, err = contextValue(raw, p, conv)
		case OriginCaller:
			raw, ok := supplied[p.Name]
			if !ok {
				v = defaultValue(p)
				break
			}
			v, err = conv.ConvertNamed(raw, p.Type, p.Name)
		case OriginExtra:
			rest := make(map[string]any)
			for name, raw := range supplied {
				if !declared[name] {
					rest[name] = raw
				}
			}
			v, err = conv.ConvertNamed(rest, p.Type, "")
		}
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func contextValue(raw any, p Param, conv *convert.Engine) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(p.Type), nil
	}
	if rv := reflect.ValueOf(raw); rv.Type().AssignableTo(p.Type) {
		return rv, nil
	}
	return conv.ConvertNamed(raw, p.Type, p.Name)
}

func defaultValue(p Param) reflect.Value {
	if p.Default == nil {
		return reflect.Zero(p.Type)
	}
	return reflect.ValueOf(p.Default)
}

// Call invokes the method with bound args. A panic inside the method is
// returned as an error.
func (m *Method) Call(ctx context.Context, args []reflect.Value) (result reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", m.Name, r)
		}
	}()

	in := args
	if m.pack != nil {
		in = m.pack(args)
	}
	if m.withCtx {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, in...)
	}
	out := m.fn.Call(in)
	if m.errIndex >= 0 {
		if e := out[m.errIndex]; !e.IsNil() {
			return reflect.Value{}, e.Interface().(error)
		}
	}
	if m.result != nil {
		return out[0], nil
	}
	return reflect.Value{}, nil
}
