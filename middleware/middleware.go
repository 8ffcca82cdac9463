// Package middleware wraps method invocation in an onion of cross-cutting
// concerns. The innermost handler is the call manager's invocation of the
// bound method; middlewares see the decoded request and the raw result.
package middleware

import (
	"context"

	"jarpc/message"
)

// HandlerFunc invokes the method a request names. The result is the
// converted method result; the error is either a taxonomy error or an
// arbitrary failure the manager will wrap.
type HandlerFunc func(ctx context.Context, req *message.Request) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost:
// Chain(A, B, C)(h) runs A.before, B.before, C.before, h, C.after, B.after, A.after.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
