package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("labelscore.engine")

var (
	// runLatency measures session run time.
	// Labels: session (configured name), status (ok, error)
	runLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "labelscore",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Inference session run latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"session", "status"})

	// runBatchSize tracks the leading dimension of the first input.
	// Labels: session
	runBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "labelscore",
		Subsystem: "engine",
		Name:      "batch_size",
		Help:      "Batch size of inference session runs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"session"})
)
