// Package registry announces which process serves which methods, so clients
// can find a server for a method name without static configuration.
package registry

import (
	"context"
	"slices"
)

// KeyPrefix roots every entry a registry writes.
const KeyPrefix = "/jarpc/"

// ServiceInstance is one process serving a service.
type ServiceInstance struct {
	Addr    string   `json:"addr"`
	Weight  int      `json:"weight,omitempty"` // relative share for weighted balancing; 0 counts as 1
	Version string   `json:"version,omitempty"`
	Methods []string `json:"methods,omitempty"`
}

// Serves reports whether the instance declared method. An instance that
// declared nothing is assumed to serve everything under its service.
func (s ServiceInstance) Serves(method string) bool {
	return len(s.Methods) == 0 || slices.Contains(s.Methods, method)
}

type Registry interface {
	// Register announces instance under serviceName for ttl seconds and
	// keeps the announcement alive until Deregister.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change. The channel is
	// closed when ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

func serviceKey(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}
