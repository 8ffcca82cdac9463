package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"jarpc/message"
	"jarpc/rpcerr"
)

// Metrics holds the call instruments. Register them once and share the
// value between managers.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the call instruments and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarpc",
			Name:      "calls_total",
			Help:      "Method calls by outcome code; code 0 is success.",
		}, []string{"method", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jarpc",
			Name:      "call_duration_seconds",
			Help:      "Method call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Duration)
	}
	return m
}

// MetricsMiddleware records every call. Calls to unknown methods are
// recorded under the method label "-" to keep label cardinality bounded.
func MetricsMiddleware(m *Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)

			method := req.Method
			code := "0"
			if err != nil {
				e := rpcerr.Wrap(err)
				code = strconv.Itoa(int(e.Code))
				if e.Code == rpcerr.CodeMethodNotFound {
					method = "-"
				}
			}
			m.Calls.WithLabelValues(method, code).Inc()
			m.Duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return result, err
		}
	}
}
