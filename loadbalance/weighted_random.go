package loadbalance

import (
	"math/rand/v2"

	"jarpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight; key is ignored.
type WeightedRandomBalancer struct{}

func weight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance, _ string) (registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return registry.ServiceInstance{}, ErrNoInstances
	}
	total := 0
	for _, inst := range instances {
		total += weight(inst)
	}
	r := rand.IntN(total)
	for _, inst := range instances {
		r -= weight(inst)
		if r < 0 {
			return inst, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string { return "weighted_random" }
