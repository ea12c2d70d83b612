package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingestion counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AttachmentsTotal   *prometheus.CounterVec
	EmailsMarkedTotal  *prometheus.CounterVec
	CatalogRowsTotal   *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	SyncRunsTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AttachmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmatrack_attachments_total",
				Help: "Mail attachments handled, by outcome",
			},
			[]string{"status"},
		),

		EmailsMarkedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmatrack_emails_marked_total",
				Help: "Messages recorded as processed, by status",
			},
			[]string{"status"},
		),

		CatalogRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmatrack_catalog_rows_total",
				Help: "Catalog rows applied during imports, by result",
			},
			[]string{"result"},
		),

		ExtractionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharmatrack_extraction_duration_seconds",
				Help:    "Document extraction duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"source"},
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmatrack_mail_sync_runs_total",
				Help: "Mailbox sync cycles, by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) RecordAttachment(status string) {
	if m == nil {
		return
	}
	m.AttachmentsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordEmailMarked(status string) {
	if m == nil {
		return
	}
	m.EmailsMarkedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCatalogRows(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CatalogRowsTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ObserveExtraction(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) RecordSyncRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SyncRunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
