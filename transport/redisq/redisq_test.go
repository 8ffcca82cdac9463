package redisq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"jarpc/codec"
	"jarpc/dispatcher"
	"jarpc/manager"
	"jarpc/message"
	"jarpc/rpcerr"
)

func setup(t *testing.T) (redis.UniversalClient, chan string) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb, err := Connect(mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rdb.Close() })

	notes := make(chan string, 1)
	d := dispatcher.New()
	d.MustRegister("arith.add", func(a, b int) int { return a + b }, dispatcher.Arg("a"), dispatcher.Arg("b"))
	d.MustRegister("note", func(s string) { notes <- s }, dispatcher.Arg("s"))
	m, err := manager.New(d)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := NewConsumer(rdb, "jarpc", m, ConsumerOptions{Workers: 2, Poll: 50 * time.Millisecond})
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run = %v", err)
		}
	})
	return rdb, notes
}

func call(t *testing.T, p *Producer, req *message.Request) *message.Response {
	t.Helper()
	raw, err := req.Encode(p.Codec())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := p.RoundTrip(ctx, raw, req.RSVP)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		return nil
	}
	resp, err := message.DecodeResponse(p.Codec(), out)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRoundTrip(t *testing.T) {
	rdb, _ := setup(t)
	for _, c := range []codec.Codec{nil, codec.GetCodec(codec.CodecTypeCBOR)} {
		p := NewProducer(rdb, "jarpc", c)
		t.Run(p.Codec().Type().String(), func(t *testing.T) {
			resp := call(t, p, &message.Request{
				Method: "arith.add",
				Params: map[string]any{"a": 20, "b": 22},
				ID:     "q1",
				TS:     message.Epoch(time.Now()),
				RSVP:   true,
			})
			if resp == nil || fmt.Sprint(resp.Result) != "42" || resp.RequestID != "q1" {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}

func TestExpiredGetsEmptyReply(t *testing.T) {
	rdb, _ := setup(t)
	p := NewProducer(rdb, "jarpc", nil)
	ttl := 1.0
	resp := call(t, p, &message.Request{
		Method: "arith.add",
		Params: map[string]any{"a": 1, "b": 1},
		TS:     message.Epoch(time.Now().Add(-time.Minute)),
		TTL:    &ttl,
		RSVP:   true,
	})
	if resp != nil {
		t.Fatalf("expired request answered: %+v", resp)
	}
}

func TestNotify(t *testing.T) {
	rdb, notes := setup(t)
	p := NewProducer(rdb, "jarpc", nil)
	call(t, p, &message.Request{
		Method: "note",
		Params: map[string]any{"s": "queued"},
		TS:     message.Epoch(time.Now()),
	})
	select {
	case s := <-notes:
		if s != "queued" {
			t.Fatalf("note = %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never consumed")
	}
}

func TestNoConsumerTimesOut(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	rdb, _ := Connect(mr.Addr())
	defer rdb.Close()

	p := NewProducer(rdb, "idle", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.RoundTrip(ctx, []byte(`{"method":"x"}`), true)
	if !errors.Is(err, rpcerr.ErrTimeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
	if n, _ := rdb.LLen(context.Background(), "idle").Result(); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url   string
		addrs int
		db    int
		tls   bool
	}{
		{"localhost:6379", 1, 0, false},
		{"redis://:pass@localhost:6379/1", 1, 1, false},
		{"rediss://host1:6379,host2:6379/0", 2, 0, true},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.url)
		if err != nil {
			t.Fatalf("parseRedisURL(%q): %v", tt.url, err)
		}
		if len(opts.Addrs) != tt.addrs || opts.DB != tt.db || (opts.TLSConfig != nil) != tt.tls {
			t.Fatalf("%q = %+v", tt.url, opts)
		}
	}
	if _, err := parseRedisURL("http://x"); err == nil {
		t.Fatal("expected scheme error")
	}
}
