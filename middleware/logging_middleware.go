package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"jarpc/message"
	"jarpc/rpcerr"
)

// LoggingMiddleware logs every call with its duration. Taxonomy errors are
// expected outcomes and log at debug; anything else logs at error.
func LoggingMiddleware(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			duration := time.Since(start)

			var ev *zerolog.Event
			switch _, taxonomy := rpcerr.As(err); {
			case err == nil:
				ev = log.Debug()
			case taxonomy:
				ev = log.Debug().Err(err)
			default:
				ev = log.Error().Err(err)
			}
			ev.Str("method", req.Method).
				Interface("id", req.ID).
				Dur("duration", duration).
				Msg("call")
			return result, err
		}
	}
}
