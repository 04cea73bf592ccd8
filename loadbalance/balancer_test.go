package loadbalance

import (
	"errors"
	"fmt"
	"packet-rpc/registry"
	"testing"
)

var testInstances = []registry.ServiceInstance{
	{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"},
	{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"},
	{Addr: "127.0.0.1:8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances in order
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != testInstances[i].Addr {
			t.Fatalf("pick %d: expect %s, got %s", i, testInstances[i].Addr, inst.Addr)
		}
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances)
	if inst.Addr != testInstances[0].Addr {
		t.Fatalf("expect wrap around to %s, got %s", testInstances[0].Addr, inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("w")} {
		if _, err := b.Pick(nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts["127.0.0.1:8001"]) / float64(counts["127.0.0.1:8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	zero := []registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick(zero); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	// Same key should always map to the same instance
	inst1, _ := NewConsistentHashBalancer("worker-123").Pick(testInstances)
	inst2, _ := NewConsistentHashBalancer("worker-123").Pick(testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := NewConsistentHashBalancer(fmt.Sprintf("key-%d", i)).Pick(testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestNew(t *testing.T) {
	cases := map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	}
	for name, want := range cases {
		b, err := New(name, "k")
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != want {
			t.Fatalf("New(%q) = %s, want %s", name, b.Name(), want)
		}
	}
	if _, err := New("fastest", ""); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
