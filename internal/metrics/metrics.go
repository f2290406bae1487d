// Package metrics holds the Prometheus collectors of the ingestion worker,
// the task queue and the search engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe to call on a nil receiver so components can run without a registry.
type Metrics struct {
	TasksProcessed *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	LastProcessed  prometheus.Gauge
	QueueDepth     *prometheus.GaugeVec
	SearchDuration *prometheus.HistogramVec
	SearchErrors   prometheus.Counter
	registry       *prometheus.Registry
}

func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bakabooru_ingest_tasks_total",
		Help: "Upload tasks processed by the ingestion worker, by outcome.",
	}, []string{"outcome"})

	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bakabooru_ingest_stage_duration_seconds",
		Help:    "Duration of each ingestion stage.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"stage"})

	m.LastProcessed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bakabooru_ingest_last_processed_timestamp_seconds",
		Help: "Unix time of the last task the worker finished.",
	})

	m.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bakabooru_queue_depth",
		Help: "Number of upload tasks per queue list.",
	}, []string{"list"})

	m.SearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bakabooru_search_duration_seconds",
		Help:    "Search execution time by sort mode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sort"})

	m.SearchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bakabooru_search_errors_total",
		Help: "Searches that failed after validation.",
	})
}

func (m *Metrics) TaskProcessed(outcome string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(outcome).Inc()
	m.LastProcessed.SetToCurrentTime()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(pending, failed int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

func (m *Metrics) ObserveSearch(sort string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SearchErrors.Inc()
		return
	}
	m.SearchDuration.WithLabelValues(sort).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.TasksProcessed.Collect(ch)
	m.StageDuration.Collect(ch)
	ch <- m.LastProcessed
	m.QueueDepth.Collect(ch)
	m.SearchDuration.Collect(ch)
	ch <- m.SearchErrors
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.TasksProcessed.Describe(ch)
	m.StageDuration.Describe(ch)
	ch <- m.LastProcessed.Desc()
	m.QueueDepth.Describe(ch)
	m.SearchDuration.Describe(ch)
	ch <- m.SearchErrors.Desc()
}
