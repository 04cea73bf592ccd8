package loadbalance

import (
	"fmt"
	"hash/crc32"
	"packet-rpc/registry"
	"sort"
)

// defaultReplicas is the number of virtual nodes per real instance.
const defaultReplicas = 100

// ConsistentHashBalancer maps a fixed key (usually the worker's name) onto a hash ring built from
// the instances passed to Pick. While the instance set is stable the same key always lands on the
// same instance, and adding or removing one instance only moves the keys that hashed near it.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int
}

func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: defaultReplicas}
}

func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	ring := make([]uint32, 0, len(instances)*b.replicas)
	nodes := make(map[uint32]int, len(instances)*b.replicas)
	for i := range instances {
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instances[i].Addr, r)))
			ring = append(ring, hash)
			nodes[hash] = i
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	// Binary search: first node with hash >= key's hash, wrapping to the start of the ring.
	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return &instances[nodes[ring[idx]]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
