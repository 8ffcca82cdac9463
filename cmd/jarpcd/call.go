package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"jarpc/client"
	"jarpc/codec"
	"jarpc/transport"
)

type CallCmd struct {
	Addr    string        `arg:"" help:"Server TCP address"`
	Method  string        `arg:"" help:"Method name"`
	Params  string        `arg:"" optional:"" help:"Params as a JSON object" default:"{}"`
	Codec   string        `help:"Codec (json, cbor)" default:"json"`
	TTL     time.Duration `help:"Request TTL; 0 sends a durable request" default:"10s"`
	Notify  bool          `help:"Send without waiting for a response"`
	Retries int           `help:"Retries on timeout or unavailable server" default:"0"`
}

func (c *CallCmd) Run() error {
	cdc, err := codec.ByName(c.Codec)
	if err != nil {
		return err
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
		return fmt.Errorf("params: %w", err)
	}

	ct, err := transport.Dial(context.Background(), c.Addr, transport.Options{Codec: cdc})
	if err != nil {
		return err
	}
	cl := client.New(ct, client.WithRetry(c.Retries, 100*time.Millisecond))
	defer cl.Close()

	var opts []client.CallOption
	if c.TTL > 0 {
		opts = append(opts, client.TTL(c.TTL))
	} else {
		opts = append(opts, client.Durable())
	}

	ctx := context.Background()
	if c.Notify {
		return cl.Notify(ctx, c.Method, params, opts...)
	}
	var result any
	if err := cl.Call(ctx, c.Method, params, &result, opts...); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
