package routing

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queryTotal counts routing queries by operation and result.
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safepath_query_total",
		Help: "Total routing queries by operation and result",
	}, []string{"operation", "result"})

	// queryDuration tracks routing query latency.
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "safepath_query_duration_seconds",
		Help:    "Routing query duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	}, []string{"operation"})

	// kPathsReturned tracks how many paths each k-path query produced.
	kPathsReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "safepath_kpaths_returned",
		Help:    "Number of paths returned per k-path query",
		Buckets: []float64{1, 2, 3, 5, 10, 20},
	})
)

// observe records one finished query.
func observe(op string, start time.Time, err error) {
	queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	queryTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoPath):
		return "no_path"
	case errors.Is(err, ErrNodeNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, ErrIndexUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
