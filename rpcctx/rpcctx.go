// Package rpcctx carries the two context layers a method can draw on: the
// manager's static values, fixed at construction, and the metadata of the
// request currently being processed.
//
// Request metadata lives in a scope attached to the call's context.Context,
// so concurrent calls never observe each other's values, and the scope is
// emptied when the call ends.
package rpcctx

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"jarpc/message"
)

// RequestParam is the parameter name reserved for injecting the raw request.
// Static context may not use it.
const RequestParam = "jarpc_request"

// Static is the manager-level context. It is read-only once built.
type Static map[string]any

// NewStatic copies values into a Static, rejecting the reserved name.
func NewStatic(values map[string]any) (Static, error) {
	if _, ok := values[RequestParam]; ok {
		return nil, fmt.Errorf("rpcctx: static context may not define %q", RequestParam)
	}
	return Static(maps.Clone(values)), nil
}

// Lookup resolves name from the static layer first and the request
// metadata second.
func (s Static) Lookup(ctx context.Context, name string) (any, bool) {
	if v, ok := s[name]; ok {
		return v, true
	}
	v, ok := Meta(ctx)[name]
	return v, ok
}

// Has reports whether name is satisfied by the static layer or the request
// metadata in ctx.
func (s Static) Has(ctx context.Context, name string) bool {
	_, ok := s.Lookup(ctx, name)
	return ok
}

type scopeKey struct{}

type scope struct {
	mu   sync.RWMutex
	req  *message.Request
	meta map[string]any
}

// Enter attaches a request scope to ctx. The returned release function
// tears the scope down and must be called on every exit path; calling it
// more than once is harmless.
func Enter(ctx context.Context, req *message.Request) (context.Context, func()) {
	sc := &scope{req: req, meta: maps.Clone(req.Meta)}
	if sc.meta == nil {
		sc.meta = map[string]any{}
	}
	release := func() {
		sc.mu.Lock()
		sc.meta = nil
		sc.req = nil
		sc.mu.Unlock()
	}
	return context.WithValue(ctx, scopeKey{}, sc), release
}

func current(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}

// Meta returns a copy of the metadata of the request in scope, or nil when
// there is none or the scope has been released.
func Meta(ctx context.Context) map[string]any {
	sc := current(ctx)
	if sc == nil {
		return nil
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return maps.Clone(sc.meta)
}

// Request returns the request in scope.
func Request(ctx context.Context) (*message.Request, bool) {
	sc := current(ctx)
	if sc == nil {
		return nil, false
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.req, sc.req != nil
}
