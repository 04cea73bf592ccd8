// Package registrytest provides an in-process registry.Registry for tests.
package registrytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"packet-rpc/registry"
)

// Registry keeps instances in memory. Entries expire after their TTL; a TTL of zero or less
// never expires.
type Registry struct {
	mu       sync.Mutex
	services map[string]map[string]memoryEntry
	now      func() time.Time
}

var _ registry.Registry = (*Registry)(nil)

type memoryEntry struct {
	instance registry.ServiceInstance
	expires  time.Time // zero means never
}

func New() *Registry {
	return &Registry{
		services: make(map[string]map[string]memoryEntry),
		now:      time.Now,
	}
}

func (r *Registry) Register(_ context.Context, serviceName string, instance registry.ServiceInstance, ttl int64) error {
	if instance.Addr == "" {
		return fmt.Errorf("registry: instance of %s has no address", serviceName)
	}
	e := memoryEntry{instance: instance}
	if ttl > 0 {
		e.expires = r.now().Add(time.Duration(ttl) * time.Second)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[serviceName] == nil {
		r.services[serviceName] = make(map[string]memoryEntry)
	}
	r.services[serviceName][instance.Addr] = e
	return nil
}

func (r *Registry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	return nil
}

// Discover returns the live instances ordered by address.
func (r *Registry) Discover(_ context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var instances []registry.ServiceInstance
	for addr, e := range r.services[serviceName] {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(r.services[serviceName], addr)
			continue
		}
		instances = append(instances, e.instance)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", registry.ErrNoInstances, serviceName)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances, nil
}
