package manager

import (
	"time"

	"github.com/rs/zerolog"

	"jarpc/codec"
	"jarpc/convert"
	"jarpc/middleware"
	"jarpc/rpcctx"
)

// Option configures a Manager.
type Option func(*Manager) error

// WithContext sets the static context injected into methods that declare
// context parameters. The reserved raw request name may not be used.
func WithContext(values map[string]any) Option {
	return func(m *Manager) error {
		s, err := rpcctx.NewStatic(values)
		if err != nil {
			return err
		}
		m.static = s
		return nil
	}
}

// WithCodec replaces the default JSON codec.
func WithCodec(c codec.Codec) Option {
	return func(m *Manager) error {
		m.codec = c
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) error {
		m.log = l
		return nil
	}
}

// WithMiddleware appends middlewares around method invocation. The first
// one added is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(m *Manager) error {
		m.middlewares = append(m.middlewares, mws...)
		return nil
	}
}

// WithConverter replaces the conversion engine, typically to share one that
// has unions registered.
func WithConverter(e *convert.Engine) Option {
	return func(m *Manager) error {
		m.conv = e
		return nil
	}
}

// WithTaskLimit bounds concurrently running fire-and-forget calls. A call
// arriving while the limit is reached is rejected with tasks.ErrFull.
func WithTaskLimit(n int) Option {
	return func(m *Manager) error {
		m.taskLimit = n
		return nil
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}
