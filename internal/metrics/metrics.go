// Package metrics exposes Prometheus collectors for the indexer and its API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "predidx"

// Event outcomes recorded by ObserveEvent.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeUnknown   = "unknown"
	OutcomeError     = "error"
)

// Metrics owns a private registry so multiple instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	events    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	conflicts *prometheus.CounterVec
	block     *prometheus.GaugeVec
	head      *prometheus.GaugeVec
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Contract events processed, by event name and outcome.",
		}, []string{"event", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent applying one event, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic concurrency conflicts that caused a handler retry.",
		}, []string{"event"}),
		block: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_block",
			Help:      "Last block fully processed by the log source.",
		}, []string{"chain"}),
		head: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_head",
			Help:      "Latest chain head observed by the log source.",
		}, []string{"chain"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the read API.",
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of read API requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		m.events, m.duration, m.conflicts, m.block, m.head, m.requests, m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveEvent(event, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
	m.duration.WithLabelValues(event).Observe(elapsed.Seconds())
}

func (m *Metrics) IncConflict(event string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(event).Inc()
}

func (m *Metrics) SetSourceBlock(chainID uint64, block uint64) {
	if m == nil {
		return
	}
	m.block.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(block))
}

func (m *Metrics) SetSourceHead(chainID uint64, head uint64) {
	if m == nil {
		return
	}
	m.head.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(head))
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}
