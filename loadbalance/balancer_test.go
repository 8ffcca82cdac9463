package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"jarpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10},
	{Addr: ":8002", Weight: 5},
	{Addr: ":8003", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}
	for i := 0; i < 6; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		if want := testInstances[i%3].Addr; inst.Addr != want {
			t.Fatalf("pick %d = %s, want %s", i, inst.Addr, want)
		}
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer(0)} {
		if _, err := b.Pick(nil, "k"); !errors.Is(err, ErrNoInstances) {
			t.Errorf("%s: err = %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}
	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}
	// :8002 has weight 5 of 25, so about 20% of picks.
	ratio := float64(counts[":8002"]) / float64(n)
	if ratio < 0.15 || ratio > 0.25 {
		t.Fatalf(":8002 picked %.2f of the time, want about 0.20", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick([]registry.ServiceInstance{{Addr: "a"}}, "")
	if err != nil || inst.Addr != "a" {
		t.Fatalf("pick = %v, %v", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer(100)

	first := map[string]string{}
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("svc.method%d", i)
		inst, err := b.Pick(testInstances, key)
		if err != nil {
			t.Fatal(err)
		}
		first[key] = inst.Addr
	}
	// Same set, any order: same answers.
	reordered := []registry.ServiceInstance{testInstances[2], testInstances[0], testInstances[1]}
	for key, addr := range first {
		if inst, _ := b.Pick(reordered, key); inst.Addr != addr {
			t.Fatalf("%s moved from %s to %s", key, addr, inst.Addr)
		}
	}

	// Removing one instance only moves the keys it owned.
	remaining := testInstances[:2]
	for key, addr := range first {
		inst, _ := b.Pick(remaining, key)
		if addr != ":8003" && inst.Addr != addr {
			t.Fatalf("%s moved from %s to %s although its instance stayed", key, addr, inst.Addr)
		}
	}
}
