// Package loadbalance picks which discovered instance receives a call.
//
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  instances announcing different weights
//   - ConsistentHash:  the same key (the method name) keeps hitting the same instance
package loadbalance

import (
	"errors"

	"jarpc/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer must be safe for concurrent use.
type Balancer interface {
	Pick(instances []registry.ServiceInstance, key string) (registry.ServiceInstance, error)
	Name() string
}
