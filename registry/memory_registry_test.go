package registry

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	reg.Register(ctx, "arith", ServiceInstance{Addr: "b:1"}, 10)
	reg.Register(ctx, "arith", ServiceInstance{Addr: "a:1", Methods: []string{"arith.add"}}, 10)

	instances, _ := reg.Discover(ctx, "arith")
	if len(instances) != 2 || instances[0].Addr != "a:1" {
		t.Fatalf("Discover = %+v", instances)
	}
	if !instances[1].Serves("anything") {
		t.Error("instance without declared methods should serve everything")
	}
	if instances[0].Serves("arith.sub") {
		t.Error("a:1 does not declare arith.sub")
	}

	reg.Deregister(ctx, "arith", "b:1")
	instances, _ = reg.Discover(ctx, "arith")
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
}

func TestMemoryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewMemoryRegistry()
	ch := reg.Watch(ctx, "arith")

	reg.Register(ctx, "arith", ServiceInstance{Addr: "a:1"}, 10)
	reg.Register(ctx, "arith", ServiceInstance{Addr: "b:1"}, 10)

	select {
	case got := <-ch:
		if len(got) != 2 {
			t.Fatalf("watch delivered %d instances, want the latest list of 2", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected update after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
