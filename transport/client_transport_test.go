package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"jarpc/codec"
	"jarpc/dispatcher"
	"jarpc/manager"
	"jarpc/message"
	"jarpc/rpcerr"
	"jarpc/server"
)

func startServer(t *testing.T) (string, chan string) {
	t.Helper()
	notified := make(chan string, 4)
	d := dispatcher.New()
	d.MustRegister("arith.add", func(a, b int) int { return a + b }, dispatcher.Arg("a"), dispatcher.Arg("b"))
	d.MustRegister("note", func(s string) { notified <- s }, dispatcher.Arg("s"))
	d.MustRegister("block", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m, err := manager.New(d)
	if err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer(m)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l, "", nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	})
	return l.Addr().String(), notified
}

func encode(t *testing.T, c codec.Codec, method string, params map[string]any, rsvp bool) []byte {
	t.Helper()
	ttl := 5.0
	raw, err := (&message.Request{
		Method: method,
		Params: params,
		TS:     message.Epoch(time.Now()),
		TTL:    &ttl,
		RSVP:   rsvp,
	}).Encode(c)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func add(t *testing.T, rt interface {
	RoundTrip(context.Context, []byte, bool) ([]byte, error)
}, c codec.Codec, a, b int) int {
	raw := encode(t, c, "arith.add", map[string]any{"a": a, "b": b}, true)
	out, err := rt.RoundTrip(context.Background(), raw, true)
	if err != nil {
		t.Errorf("RoundTrip: %v", err)
		return 0
	}
	resp, err := message.DecodeResponse(c, out)
	if err != nil {
		t.Errorf("DecodeResponse: %v", err)
		return 0
	}
	var got int
	fmt.Sscan(fmt.Sprint(resp.Result), &got)
	return got
}

func TestClientTransportSerial(t *testing.T) {
	addr, _ := startServer(t)
	ct, err := Dial(context.Background(), addr, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer ct.Close()

	for i := 0; i < 5; i++ {
		if got := add(t, ct, ct.Codec(), i, i); got != 2*i {
			t.Fatalf("add(%d, %d) = %d", i, i, got)
		}
	}
}

func TestClientTransportConcurrent(t *testing.T) {
	addr, _ := startServer(t)
	ct, err := Dial(context.Background(), addr, Options{Codec: codec.GetCodec(codec.CodecTypeCBOR), Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ct.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if got := add(t, ct, ct.Codec(), i, 1); got != i+1 {
				t.Errorf("add(%d, 1) = %d", i, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientTransportNotify(t *testing.T) {
	addr, notified := startServer(t)
	ct, err := Dial(context.Background(), addr, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer ct.Close()

	out, err := ct.RoundTrip(context.Background(), encode(t, ct.Codec(), "note", map[string]any{"s": "hi"}, false), false)
	if err != nil || out != nil {
		t.Fatalf("notify returned %s, %v", out, err)
	}
	select {
	case s := <-notified:
		if s != "hi" {
			t.Fatalf("notified %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never ran")
	}
}

func TestClientTransportTimeout(t *testing.T) {
	addr, _ := startServer(t)
	ct, err := Dial(context.Background(), addr, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer ct.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ct.RoundTrip(ctx, encode(t, ct.Codec(), "block", nil, true), true)
	if !errors.Is(err, rpcerr.ErrTimeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
}

func TestClientTransportBrokenConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		}
	}()

	ct, err := Dial(context.Background(), l.Addr().String(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = ct.RoundTrip(context.Background(), []byte(`{"method":"x"}`), true)
	if !errors.Is(err, rpcerr.ErrExternalServiceUnavailable) {
		t.Fatalf("err = %v, want ExternalServiceUnavailable", err)
	}
	if !ct.Closed() {
		t.Fatal("transport not marked closed")
	}
}

func TestPool(t *testing.T) {
	addr, _ := startServer(t)
	p := NewPool(addr, 3, Options{})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if got := add(t, p, p.Codec(), i, i); got != 2*i {
				t.Errorf("add(%d, %d) = %d", i, i, got)
			}
		}(i)
	}
	wg.Wait()

	p.Close()
	if _, err := p.RoundTrip(context.Background(), nil, true); !errors.Is(err, ErrClosed) {
		t.Fatalf("err after Close = %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	if _, err := Dial(context.Background(), addr, Options{}); !errors.Is(err, rpcerr.ErrExternalServiceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
