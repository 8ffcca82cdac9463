package middleware

import (
	"context"
	"fmt"

	"jarpc/message"
)

// RecoverMiddleware turns a panic anywhere below it into an error.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					result, err = nil, fmt.Errorf("panic while handling %s: %v", req.Method, r)
				}
			}()
			return next(ctx, req)
		}
	}
}
