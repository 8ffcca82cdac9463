package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"sort"
	"strings"
	"sync"

	"jarpc/registry"
)

// ConsistentHashBalancer maps a key to an instance on a hash ring with
// virtual nodes, so a key stays on the same instance while the instance set
// is unchanged and only moves for a fraction of keys when it changes.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu   sync.Mutex
	sig  string // addresses the ring was built for
	ring []uint32
	node map[uint32]registry.ServiceInstance
}

// NewConsistentHashBalancer places replicas virtual nodes per instance;
// 100 when replicas is not positive.
func NewConsistentHashBalancer(replicas int) *ConsistentHashBalancer {
	if replicas <= 0 {
		replicas = 100
	}
	return &ConsistentHashBalancer{replicas: replicas}
}

func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance, key string) (registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return registry.ServiceInstance{}, ErrNoInstances
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.node[b.ring[idx]], nil
}

// rebuild recomputes the ring when the instance set changed. b.mu must be held.
func (b *ConsistentHashBalancer) rebuild(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	slices.Sort(addrs)
	sig := strings.Join(addrs, ",")
	if sig == b.sig && b.ring != nil {
		return
	}
	b.sig = sig
	b.ring = b.ring[:0]
	b.node = make(map[uint32]registry.ServiceInstance, len(instances)*b.replicas)
	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			b.ring = append(b.ring, hash)
			b.node[hash] = inst
		}
	}
	slices.Sort(b.ring)
}

func (b *ConsistentHashBalancer) Name() string { return "consistent_hash" }
