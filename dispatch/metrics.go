package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for dispatcher monitoring.
//
// Metrics exposed (all namespaced with "dispatch_"):
//
//  1. inflight_items (gauge): Work items issued but not yet written.
//  2. pending_writes (gauge): Completed items waiting for contiguous predecessors.
//  3. heap_size (gauge): Reissue-heap length, including stale entries.
//  4. issued_total (counter): Items handed to workers, fresh reads only.
//  5. reissues_total (counter): Timed-out items handed out again.
//  6. tombstones_total (counter): Items dead-lettered after the retry cap.
//  7. completed_total (counter): Results accepted and buffered for write.
//  8. duplicates_total (counter): Completions discarded as duplicate or unknown.
//  9. batch_size (histogram): Items returned per work batch request.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := dispatch.NewMetrics(registry)
//	tracker, err := dispatch.NewTracker(in, out, ckpt, dispatch.WithMetrics(metrics))
//
//	// Expose via HTTP for Prometheus scraping:
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are nil-safe: a nil *Metrics records nothing, so the Tracker
// can be run without a registry.
type Metrics struct {
	inflight   prometheus.Gauge
	pending    prometheus.Gauge
	heapSize   prometheus.Gauge
	issued     prometheus.Counter
	reissues   prometheus.Counter
	tombstones prometheus.Counter
	completed  prometheus.Counter
	duplicates prometheus.Counter
	batchSize  prometheus.Histogram
}

// NewMetrics creates and registers all dispatcher metrics with the provided
// Prometheus registry. Pass prometheus.DefaultRegisterer to use the global
// registry, or a dedicated registry for isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "inflight_items",
			Help:      "Work items issued but not yet written to the output file.",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "pending_writes",
			Help:      "Completed items buffered until their predecessors complete.",
		}),
		heapSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "heap_size",
			Help:      "Reissue heap length, including stale entries awaiting lazy deletion.",
		}),
		issued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "issued_total",
			Help:      "Work items issued from fresh input reads.",
		}),
		reissues: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "reissues_total",
			Help:      "Work items reissued after exceeding the work timeout.",
		}),
		tombstones: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "tombstones_total",
			Help:      "Work items dead-lettered after exceeding the retry cap.",
		}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "completed_total",
			Help:      "Results accepted from workers.",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "duplicates_total",
			Help:      "Completions discarded as duplicate or never-issued.",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "batch_size",
			Help:      "Items returned per work batch request.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
	}
}

func (m *Metrics) observeIssued(n int) {
	if m == nil {
		return
	}
	m.issued.Add(float64(n))
}

func (m *Metrics) observeReissue() {
	if m == nil {
		return
	}
	m.reissues.Inc()
}

func (m *Metrics) observeTombstone() {
	if m == nil {
		return
	}
	m.tombstones.Inc()
}

func (m *Metrics) observeCompleted(n int) {
	if m == nil {
		return
	}
	m.completed.Add(float64(n))
}

func (m *Metrics) observeDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) observeBatch(n int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(n))
}

func (m *Metrics) setQueueDepths(inflight, pending, heapSize int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(inflight))
	m.pending.Set(float64(pending))
	m.heapSize.Set(float64(heapSize))
}
