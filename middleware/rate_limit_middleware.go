package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"jarpc/message"
	"jarpc/rpcerr"
)

// RateLimitMiddleware admits calls through a token bucket refilled at r
// tokens per second. Calls over the limit fail with ServerError.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			if !limiter.Allow() {
				return nil, rpcerr.New(rpcerr.CodeServerError, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
