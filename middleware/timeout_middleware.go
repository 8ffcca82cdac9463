package middleware

import (
	"context"
	"time"

	"jarpc/message"
	"jarpc/rpcerr"
)

type outcome struct {
	result any
	err    error
}

// TimeOutMiddleware bounds a call to timeout. When the bound is hit the call
// fails with Timeout; when the caller's own context ends first its error is
// returned instead so the manager can tell the two apart. A fire-and-forget
// call still fails at the bound but only after the method has returned.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(parent context.Context, req *message.Request) (any, error) {
			ctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, req)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				// A method that gave up because of our deadline timed out too.
				if o.err != nil && ctx.Err() != nil && parent.Err() == nil {
					return nil, rpcerr.Timeout("request timed out")
				}
				return o.result, o.err
			case <-ctx.Done():
				if !req.RSVP {
					<-done
				}
				if err := parent.Err(); err != nil {
					return nil, err
				}
				return nil, rpcerr.Timeout("request timed out")
			}
		}
	}
}
