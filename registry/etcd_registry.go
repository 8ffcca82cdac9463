package registry

// Entries live under /jarpc/{service}/{addr} with a JSON ServiceInstance as
// value. Each registration owns a lease: if the process dies, the lease
// expires and the entry disappears.

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	log    zerolog.Logger

	mu     sync.Mutex
	leases map[string]registration // key → lease
}

type registration struct {
	lease clientv3.LeaseID
	stop  context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, log zerolog.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, log: log, leases: make(map[string]registration)}, nil
}

// Register grants a lease of ttl seconds, writes the entry under it and
// keeps the lease alive in the background.
//
// Re-registering the same address replaces the previous lease.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := serviceKey(serviceName) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keep-alive must outlive ctx, which only bounds registration.
	kaCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		stop()
		return err
	}
	go func() {
		for range ch {
		}
		r.log.Debug().Str("key", key).Msg("lease keep-alive ended")
	}()

	r.mu.Lock()
	prev, had := r.leases[key]
	r.leases[key] = registration{lease: lease.ID, stop: stop}
	r.mu.Unlock()
	if had {
		prev.stop()
		_, _ = r.client.Revoke(ctx, prev.lease)
	}
	return nil
}

// Deregister removes the entry and revokes its lease. Called during graceful
// shutdown before the listener closes.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := serviceKey(serviceName) + addr
	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	if ok {
		reg.stop()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			return err
		}
	}
	return nil
}

// Watch re-reads the full list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, serviceKey(serviceName), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.log.Warn().Err(err).Str("service", serviceName).Msg("cannot refresh instances")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Discover lists the instances currently registered for serviceName.
// Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, serviceKey(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Debug().Bytes("key", kv.Key).Msg("skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops every keep-alive and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for _, reg := range r.leases {
		reg.stop()
	}
	r.leases = map[string]registration{}
	r.mu.Unlock()
	return r.client.Close()
}
