package dispatcher

import (
	"context"
	"testing"

	"jarpc/convert"
	"jarpc/message"
	"jarpc/rpcctx"
)

type SumArgs struct {
	A     int              `json:"a"`
	B     int              `json:"b" jarpc:"optional"`
	App   string           `json:"app" jarpc:"context"`
	Req   *message.Request `jarpc:"request"`
	Other map[string]any   `jarpc:"extra"`
}

type Arith struct{}

func (a *Arith) Sum(ctx context.Context, args SumArgs) (int, error) {
	return args.A + args.B + len(args.Other), nil
}

func (a *Arith) GetResult(args struct {
	X int `json:"x"`
}) int {
	return args.X
}

// not a service method: pointer argument
func (a *Arith) Skip(args *SumArgs) {}

func TestRegisterService(t *testing.T) {
	d := New()
	if err := d.RegisterService("arith", &Arith{}); err != nil {
		t.Fatal(err)
	}
	got := d.Methods()
	want := []string{"arith.get_result", "arith.sum"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Methods = %v, want %v", got, want)
	}

	m, err := d.Lookup("arith.sum")
	if err != nil {
		t.Fatal(err)
	}
	inj := Injection{Context: rpcctx.Static{"app": "A"}, Request: &message.Request{Method: "arith.sum"}}
	args, err := m.Bind(context.Background(), map[string]any{"a": int64(1), "z": true}, inj, convert.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Call(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if out.Interface() != 2 {
		t.Fatalf("sum = %v", out.Interface())
	}

	if err := d.RegisterService("arith", &Arith{}); err == nil {
		t.Fatal("second registration must be rejected")
	}
	if err := New().RegisterService("", Arith{}); err == nil {
		t.Fatal("non-pointer receiver must be rejected")
	}
}

func TestSnake(t *testing.T) {
	for in, want := range map[string]string{
		"GetResult":  "get_result",
		"Sum":        "sum",
		"HTTPStatus": "http_status",
		"Add2Items":  "add2_items",
	} {
		if got := snake(in); got != want {
			t.Errorf("snake(%q) = %q, want %q", in, got, want)
		}
	}
}
