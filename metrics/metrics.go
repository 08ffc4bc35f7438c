// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	StagesCompleted *prometheus.CounterVec
	RowsLoaded      *prometheus.CounterVec
	TablesExtracted *prometheus.CounterVec
	DownloadBytes   prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec

	StageDuration *prometheus.HistogramVec

	registry *prometheus.Registry
	enabled  bool
	address  string
}

// New creates a metrics instance. When disabled, every record method is a
// no-op and no listener is started.
func New(enabled bool, address string) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		address:  address,
		registry: prometheus.NewRegistry(),
	}

	if !enabled {
		return m
	}

	m.StagesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipeds",
			Name:      "stages_completed_total",
			Help:      "Pipeline stages completed by outcome",
		},
		[]string{"stage", "status"},
	)

	m.RowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipeds",
			Name:      "rows_loaded_total",
			Help:      "Rows loaded into staging by table",
		},
		[]string{"table"},
	)

	m.TablesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipeds",
			Name:      "tables_extracted_total",
			Help:      "Tables extracted by outcome",
		},
		[]string{"status"},
	)

	m.DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ipeds",
			Name:      "download_bytes_total",
			Help:      "Total archive bytes downloaded",
		},
	)

	m.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipeds",
			Name:      "errors_total",
			Help:      "Total errors by stage",
		},
		[]string{"stage"},
	)

	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ipeds",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"stage"},
	)

	m.registry.MustRegister(
		m.StagesCompleted,
		m.RowsLoaded,
		m.TablesExtracted,
		m.DownloadBytes,
		m.ErrorsTotal,
		m.StageDuration,
	)

	return m
}

// Serve starts the /metrics listener in the background.
func (m *Metrics) Serve() {
	if !m.enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go http.ListenAndServe(m.address, mux)
}

// RecordStage records one completed pipeline stage.
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.StagesCompleted.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRowsLoaded records rows loaded into one staging table.
func (m *Metrics) RecordRowsLoaded(table string, rows int64) {
	if !m.enabled {
		return
	}
	m.RowsLoaded.WithLabelValues(table).Add(float64(rows))
}

// RecordTableExtracted records one table extraction outcome.
func (m *Metrics) RecordTableExtracted(status string) {
	if !m.enabled {
		return
	}
	m.TablesExtracted.WithLabelValues(status).Inc()
}

// RecordDownloadBytes records bytes fetched from the source.
func (m *Metrics) RecordDownloadBytes(n int64) {
	if !m.enabled {
		return
	}
	m.DownloadBytes.Add(float64(n))
}

// RecordError records an error attributed to a stage.
func (m *Metrics) RecordError(stage string) {
	if !m.enabled {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}
