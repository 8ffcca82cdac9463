package transport

// Pool spreads calls to one address over a fixed number of multiplexed
// connections. Connections are dialed lazily and redialed once broken.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"jarpc/codec"
)

// Pool implements the same RoundTrip contract as ClientTransport.
type Pool struct {
	addr string
	opts Options

	mu     sync.Mutex
	slots  []*ClientTransport
	closed bool
	next   atomic.Uint32
}

// NewPool creates a pool of size connections to addr. A size below one is
// treated as one.
func NewPool(addr string, size int, opts Options) *Pool {
	if size < 1 {
		size = 1
	}
	if opts.Codec == nil {
		opts.Codec = codec.GetCodec(codec.CodecTypeJSON)
	}
	return &Pool{addr: addr, opts: opts, slots: make([]*ClientTransport, size)}
}

func (p *Pool) Codec() codec.Codec { return p.opts.Codec }

// get returns a live transport for the next slot in round-robin order,
// dialing it if needed.
func (p *Pool) get(ctx context.Context) (*ClientTransport, error) {
	i := int(p.next.Add(1)) % len(p.slots)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if t := p.slots[i]; t != nil && !t.Closed() {
		return t, nil
	}
	t, err := Dial(ctx, p.addr, p.opts)
	if err != nil {
		return nil, err
	}
	p.slots[i] = t
	return t, nil
}

func (p *Pool) RoundTrip(ctx context.Context, raw []byte, rsvp bool) ([]byte, error) {
	t, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	return t.RoundTrip(ctx, raw, rsvp)
}

// Close shuts down the pool and closes all connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for i, t := range p.slots {
		if t != nil {
			errs = append(errs, t.Close())
			p.slots[i] = nil
		}
	}
	return errors.Join(errs...)
}
