// Package registry lets RPC hosts advertise the address their packet listener is bound to, so that
// workers started with a service name instead of a port can find them.
//
//	Key:   /packet-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by Discover when nothing is registered under a name.
var ErrNoInstances = errors.New("registry: no instances registered")

// keyPrefix is the root of every key this package writes.
const keyPrefix = "/packet-rpc/"

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	// Register advertises instance under serviceName for ttl seconds. The entry is kept alive until
	// Deregister is called or the registering process dies.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

func servicePrefix(serviceName string) string {
	return keyPrefix + serviceName + "/"
}
