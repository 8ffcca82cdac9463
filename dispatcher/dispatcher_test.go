package dispatcher

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"jarpc/convert"
	"jarpc/message"
	"jarpc/rpcctx"
	"jarpc/rpcerr"
)

func TestLookupUnknownMethod(t *testing.T) {
	d := New()
	d.MustRegister("zeta", func() {})
	d.MustRegister("alpha", func() {})

	_, err := d.Lookup("method")
	e, ok := rpcerr.As(err)
	if !ok || e.Code != rpcerr.CodeMethodNotFound || e.Message != "Method not found" {
		t.Fatalf("err = %v", err)
	}
	detail := e.Data.(rpcerr.MethodNotFoundDetail)
	if detail.Method != "method" || !reflect.DeepEqual(detail.DeclaredMethods, []string{"alpha", "zeta"}) {
		t.Fatalf("detail = %+v", detail)
	}

	if _, err := New().Lookup("x"); !errors.Is(err, rpcerr.ErrMethodNotFound) {
		t.Fatalf("empty dispatcher: %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	d := New()
	d.MustRegister("m", func() {})
	if err := d.Register("m", func() {}); !errors.Is(err, ErrDuplicateMethod) {
		t.Fatalf("err = %v, want ErrDuplicateMethod", err)
	}
}

func TestRegisterValidatesSignature(t *testing.T) {
	d := New()
	tests := []struct {
		name   string
		fn     any
		params []Param
	}{
		{"not a func", 42, nil},
		{"arity", func(a, b int) {}, []Param{Arg("a")}},
		{"variadic", func(a ...int) {}, []Param{Arg("a")}},
		{"bad second result", func() (int, int) { return 0, 0 }, nil},
		{"reserved name", func(a int) {}, []Param{Arg(rpcctx.RequestParam)}},
		{"raw request type", func(r string) {}, []Param{RawRequest("r")}},
		{"extra type", func(r []int) {}, []Param{Extra()}},
		{"default type", func(a int) {}, []Param{Optional("a", "x")}},
		{"duplicate param", func(a, b int) {}, []Param{Arg("a"), Arg("a")}},
	}
	for _, tt := range tests {
		if err := d.Register(tt.name, tt.fn, tt.params...); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

// signature a, b, c=0, x, y=1
func abcxy() []Param {
	return []Param{Arg("a"), Arg("b"), Optional("c", 0), Arg("x"), Optional("y", 1)}
}

func TestDiagnose(t *testing.T) {
	withExtra := append(abcxy(), Extra())
	tests := []struct {
		params   []Param
		supplied map[string]any
		ok       bool
		want     string
	}{
		{[]Param{Arg("a"), Arg("b")}, map[string]any{"a": 1, "b": 2}, true, ""},
		{withExtra, map[string]any{"a": 1, "b": 2, "c": 3, "x": 0, "y": 1}, true, ""},
		{withExtra, map[string]any{"a": 1, "b": 2, "x": 0}, true, ""},
		{withExtra, map[string]any{"a": 1, "b": 2, "x": 0, "foo": "bar"}, true, ""},
		{[]Param{Arg("a"), Arg("b")}, map[string]any{"a": 1, "b": 2, "c": 3}, false, "Unexpected arguments: c"},
		{[]Param{Arg("a"), Arg("b")}, map[string]any{"a": 1}, false, "Missing arguments: b"},
		{[]Param{Arg("a"), Arg("b")}, map[string]any{}, false, "Missing arguments: a, b"},
		{abcxy(), map[string]any{"a": 1, "b": 2, "c": 3, "x": 0, "y": 1, "z": 2}, false, "Unexpected arguments: z"},
		{abcxy(), map[string]any{"a": 1, "x": 0}, false, "Missing arguments: b"},
		{abcxy(), map[string]any{"a": 1, "b": 2}, false, "Missing arguments: x"},
		{abcxy(), map[string]any{"q": 1, "p": 1}, false, "Missing arguments: a, b, x"},
		{withExtra, map[string]any{"a": 1, "b": 2, "x": 0, "app": "evil"}, false, "Unavailable arguments: app"},
		{withExtra, map[string]any{"a": 1, "b": 2, "x": 0, rpcctx.RequestParam: "evil"}, false, "Unavailable arguments: jarpc_request"},
		{[]Param{FromContext("app"), Arg("a")}, map[string]any{"a": 1}, true, ""},
		{[]Param{FromContext("user"), Arg("a")}, map[string]any{"a": 1}, false, "Missing arguments: user"},
		{[]Param{FromContext("user"), Arg("a")}, map[string]any{}, false, "Missing arguments: a, user"},
	}
	reserved := func(name string) bool { return name == "app" || name == rpcctx.RequestParam }
	for i, tt := range tests {
		ok, got := Diagnose(tt.params, tt.supplied, reserved)
		if ok != tt.ok || got != tt.want {
			t.Errorf("case %d: got (%v, %q), want (%v, %q)", i, ok, got, tt.ok, tt.want)
		}
	}
}

type app struct{ name string }

func TestBindAndCall(t *testing.T) {
	d := New()
	d.MustRegister("run",
		func(ctx context.Context, req *message.Request, a *app, x int, y string) string {
			return a.name + ":" + req.Method + ":" + y
		},
		RawRequest("jarpc_request"), FromContext("app"), Arg("x"), Optional("y", "dflt"),
	)
	m, err := d.Lookup("run")
	if err != nil {
		t.Fatal(err)
	}

	inj := Injection{Context: rpcctx.Static{"app": &app{name: "A"}}, Request: &message.Request{Method: "run"}}
	conv := convert.New(nil)

	args, err := m.Bind(context.Background(), map[string]any{"x": 1}, inj, conv)
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Call(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if out.Interface() != "A:run:dflt" {
		t.Fatalf("result = %v", out.Interface())
	}

	_, err = m.Bind(context.Background(), map[string]any{"x": 1, "app": "evil"}, inj, conv)
	if err == nil {
		t.Fatal("expected a collision error")
	}
	if _, isTaxonomy := rpcerr.As(err); isTaxonomy {
		t.Fatalf("collision must be a plain error, got %v", err)
	}

	_, err = m.Bind(context.Background(), map[string]any{}, inj, conv)
	if e, ok := rpcerr.As(err); !ok || e.Code != rpcerr.CodeInvalidParams || e.Data != "Missing arguments: x" {
		t.Fatalf("err = %v", err)
	}

	_, err = m.Bind(context.Background(), map[string]any{"x": "one"}, inj, conv)
	if !errors.Is(err, rpcerr.ErrParse) {
		t.Fatalf("err = %v, want ParseError", err)
	}

	_, err = m.Bind(context.Background(), map[string]any{"x": 1}, Injection{Request: inj.Request}, conv)
	if e, ok := rpcerr.As(err); !ok || e.Code != rpcerr.CodeInvalidParams || e.Data != "Missing arguments: app" {
		t.Fatalf("err = %v, want Missing arguments: app", err)
	}
}

func TestContextFromRequestMeta(t *testing.T) {
	d := New()
	d.MustRegister("whoami", func(user string) string { return user }, FromContext("user"))
	m, _ := d.Lookup("whoami")

	req := &message.Request{Meta: map[string]any{"user": "bob"}}
	ctx, release := rpcctx.Enter(context.Background(), req)
	defer release()

	args, err := m.Bind(ctx, map[string]any{}, Injection{Context: rpcctx.Static{}, Request: req}, convert.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Call(ctx, args)
	if err != nil || out.Interface() != "bob" {
		t.Fatalf("Call = %v, %v", out, err)
	}
}

func TestBindExtra(t *testing.T) {
	d := New()
	d.MustRegister("kw", func(a int, rest map[string]int) int {
		sum := a
		for _, v := range rest {
			sum += v
		}
		return sum
	}, Arg("a"), Extra())
	m, _ := d.Lookup("kw")

	args, err := m.Bind(context.Background(), map[string]any{"a": int64(1), "b": int64(2), "c": int64(3)}, Injection{}, convert.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	out, _ := m.Call(context.Background(), args)
	if out.Interface() != 6 {
		t.Fatalf("sum = %v", out.Interface())
	}
}

func TestCallErrorsAndPanics(t *testing.T) {
	d := New()
	boom := errors.New("boom")
	d.MustRegister("fails", func() (int, error) { return 0, boom })
	d.MustRegister("panics", func() int { panic("bad") })
	d.MustRegister("void", func() {})

	m, _ := d.Lookup("fails")
	if _, err := m.Call(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	m, _ = d.Lookup("panics")
	if _, err := m.Call(context.Background(), nil); err == nil {
		t.Error("panic not reported")
	}
	m, _ = d.Lookup("void")
	out, err := m.Call(context.Background(), nil)
	if err != nil || out.IsValid() {
		t.Errorf("void call = %v, %v", out, err)
	}
}
