// Package loadbalance picks the host a worker connects to when discovery returns several.
//
// Three strategies are implemented:
//   - RoundRobin:      spread successive workers evenly
//   - WeightedRandom:  hosts with different capacity
//   - ConsistentHash:  the same worker key lands on the same host while the host set is stable
package loadbalance

import (
	"errors"
	"fmt"
	"packet-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer configured by name. key is only used by "consistent_hash".
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
