package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"jarpc/loadbalance"
	"jarpc/registry"
	"jarpc/rpcerr"
)

// DialFunc opens a client for a discovered instance address.
type DialFunc func(ctx context.Context, addr string) (*Client, error)

// Router sends each method to the client registered for its longest dotted
// prefix: with routes for "kitchen" and "kitchen.salad", the method
// "kitchen.salad.cook" goes to the second. Methods no route covers fall back
// to discovery when a registry is configured, then to the default client.
type Router struct {
	log zerolog.Logger

	mu       sync.RWMutex
	routes   map[string]*Client
	fallback *Client

	reg      registry.Registry
	dial     DialFunc
	balancer loadbalance.Balancer
	dialed   map[string]*Client // addr → client
}

type RouterOption func(*Router)

// WithDiscovery resolves unrouted methods through reg. Every dotted prefix
// of the method is tried as a service name, longest first, and an instance
// declaring the method is dialed with dial.
func WithDiscovery(reg registry.Registry, dial DialFunc) RouterOption {
	return func(r *Router) { r.reg, r.dial = reg, dial }
}

// WithBalancer picks among discovered instances. The method name is the
// key. Defaults to round robin.
func WithBalancer(b loadbalance.Balancer) RouterOption { return func(r *Router) { r.balancer = b } }

func WithRouterLogger(l zerolog.Logger) RouterOption { return func(r *Router) { r.log = l } }

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		log:    zerolog.Nop(),
		routes: make(map[string]*Client),
		dialed: make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.balancer == nil {
		r.balancer = &loadbalance.RoundRobinBalancer{}
	}
	return r
}

// Route sends methods under prefix to c.
func (r *Router) Route(prefix string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[prefix] = c
}

// Default sets the client used when nothing else matches.
func (r *Router) Default(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// prefixes lists method and each of its dotted prefixes, longest first.
func prefixes(method string) []string {
	out := []string{method}
	for i := strings.LastIndexByte(method, '.'); i > 0; i = strings.LastIndexByte(method[:i], '.') {
		out = append(out, method[:i])
	}
	return out
}

// Resolve returns the client that should receive method.
func (r *Router) Resolve(ctx context.Context, method string) (*Client, error) {
	candidates := prefixes(method)
	r.mu.RLock()
	for _, p := range candidates {
		if c, ok := r.routes[p]; ok {
			r.mu.RUnlock()
			return c, nil
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	if r.reg != nil {
		c, err := r.discover(ctx, method, candidates)
		if err == nil {
			return c, nil
		}
		if fallback == nil {
			return nil, err
		}
		r.log.Debug().Err(err).Str("method", method).Msg("discovery failed, using default client")
	}
	if fallback == nil {
		return nil, rpcerr.ExternalServiceUnavailable(fmt.Sprintf("no route for method %s", method))
	}
	return fallback, nil
}

func (r *Router) discover(ctx context.Context, method string, services []string) (*Client, error) {
	for _, service := range services {
		instances, err := r.reg.Discover(ctx, service)
		if err != nil {
			return nil, rpcerr.ExternalServiceUnavailable(err.Error())
		}
		var serving []registry.ServiceInstance
		for _, inst := range instances {
			if inst.Serves(method) {
				serving = append(serving, inst)
			}
		}
		if len(serving) == 0 {
			continue
		}
		inst, err := r.balancer.Pick(serving, method)
		if err != nil {
			return nil, rpcerr.ExternalServiceUnavailable(err.Error())
		}
		return r.client(ctx, inst.Addr)
	}
	return nil, rpcerr.ExternalServiceUnavailable(fmt.Sprintf("no instance serves %s", method))
}

// client returns the cached client for addr, dialing it once.
func (r *Router) client(ctx context.Context, addr string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.dialed[addr]; ok {
		return c, nil
	}
	c, err := r.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	r.dialed[addr] = c
	return c, nil
}

// Call resolves method and calls it. See Client.Call.
func (r *Router) Call(ctx context.Context, method string, params any, out any, opts ...CallOption) error {
	c, err := r.Resolve(ctx, method)
	if err != nil {
		return err
	}
	return c.Call(ctx, method, params, out, opts...)
}

// Notify resolves method and notifies it. See Client.Notify.
func (r *Router) Notify(ctx context.Context, method string, params any, opts ...CallOption) error {
	c, err := r.Resolve(ctx, method)
	if err != nil {
		return err
	}
	return c.Notify(ctx, method, params, opts...)
}

// Close closes the clients the router dialed itself.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for addr, c := range r.dialed {
		errs = append(errs, c.Close())
		delete(r.dialed, addr)
	}
	return errors.Join(errs...)
}
