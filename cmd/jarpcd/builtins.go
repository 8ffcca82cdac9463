package main

import (
	"context"
	"time"

	"jarpc/dispatcher"
	"jarpc/message"
	"jarpc/rpcctx"
	"jarpc/rpcerr"
)

// System answers introspection calls.
type System struct {
	d *dispatcher.Dispatcher
}

type PingArgs struct{}

func (s *System) Ping(PingArgs) string { return "pong" }

type EchoArgs struct {
	Value any `json:"value"`
}

func (s *System) Echo(args EchoArgs) any { return args.Value }

type TimeArgs struct{}

func (s *System) Time(TimeArgs) float64 { return message.Epoch(time.Now()) }

type MethodsArgs struct{}

func (s *System) Methods(MethodsArgs) []string { return s.d.Methods() }

// MetaArgs exposes the envelope to the method.
type MetaArgs struct {
	Req *message.Request `jarpc:"request"`
}

// Whoami reports the caller-visible fields of the request being handled.
func (s *System) Whoami(ctx context.Context, args MetaArgs) map[string]any {
	out := map[string]any{"id": args.Req.ID, "method": args.Req.Method}
	if meta := rpcctx.Meta(ctx); meta != nil {
		out["meta"] = meta
	}
	return out
}

type SleepArgs struct {
	Seconds float64 `json:"seconds"`
}

// Sleep waits, giving up when the request's deadline passes.
func (s *System) Sleep(ctx context.Context, args SleepArgs) (float64, error) {
	if args.Seconds < 0 {
		return 0, rpcerr.ValidationError("seconds must not be negative")
	}
	select {
	case <-time.After(time.Duration(args.Seconds * float64(time.Second))):
		return args.Seconds, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Math is a small arithmetic service.
type Math struct{}

type BinaryArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func (Math) Add(args BinaryArgs) float64 { return args.A + args.B }

func (Math) Divide(args BinaryArgs) (float64, error) {
	if args.B == 0 {
		return 0, rpcerr.ValidationError("division by zero")
	}
	return args.A / args.B, nil
}

type SumArgs struct {
	Values []float64 `json:"values"`
	Start  float64   `json:"start" jarpc:"optional"`
}

func (Math) Sum(args SumArgs) float64 {
	total := args.Start
	for _, v := range args.Values {
		total += v
	}
	return total
}

func registerBuiltins(d *dispatcher.Dispatcher) error {
	if err := d.RegisterService("sys", &System{d: d}); err != nil {
		return err
	}
	return d.RegisterService("math", &Math{})
}
