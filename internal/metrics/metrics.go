// Package metrics exposes a small Prometheus registry for the core's
// network and transfer activity, grounded on
// kenchrcum-s3-encryption-gateway/internal/metrics's use of
// promauto.With(registry) to build a fresh, test-isolated registry
// rather than relying on the global DefaultRegisterer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the core's counters and histograms. The backend client
// records chunk, byte and retry counts; ChunkLatency and TaskOutcomes are
// registered but nothing records into them.
type Registry struct {
	Registerer prometheus.Registerer

	ChunksUploaded   prometheus.Counter
	ChunksDownloaded prometheus.Counter
	BytesUploaded    prometheus.Counter
	BytesDownloaded  prometheus.Counter
	RetryCount       *prometheus.CounterVec
	ChunkLatency     *prometheus.HistogramVec
	TaskOutcomes     *prometheus.CounterVec
}

// NewRegistry builds a Registry backed by a fresh prometheus.Registry, so
// tests and multiple CLI invocations in the same process never collide
// on metric registration.
func NewRegistry() *Registry {
	return NewRegistryWith(prometheus.NewRegistry())
}

// NewRegistryWith builds a Registry against an existing Registerer.
func NewRegistryWith(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		Registerer: reg,
		ChunksUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "filen_chunks_uploaded_total",
			Help: "Total number of chunks successfully uploaded.",
		}),
		ChunksDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "filen_chunks_downloaded_total",
			Help: "Total number of chunks successfully downloaded.",
		}),
		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "filen_bytes_uploaded_total",
			Help: "Total ciphertext bytes sent to the backend.",
		}),
		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "filen_bytes_downloaded_total",
			Help: "Total ciphertext bytes received from the backend.",
		}),
		RetryCount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filen_backend_retries_total",
			Help: "Total number of retried backend requests, by operation.",
		}, []string{"operation"}),
		ChunkLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filen_chunk_round_trip_seconds",
			Help:    "Round-trip latency of a single chunk PUT/GET, by direction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
		TaskOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filen_task_outcomes_total",
			Help: "Terminal task outcomes, by status.",
		}, []string{"status"}),
	}
}
