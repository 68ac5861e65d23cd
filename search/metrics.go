package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the search client.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	BooksExtractedTotal prometheus.Counter
	BooksRejectedTotal  prometheus.Counter
	ConversionsTotal    prometheus.Counter
	RetriesTotal        prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eurobuch_requests_total",
			Help: "Total HTTP requests issued against the metasearch API.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eurobuch_request_duration_seconds",
			Help:    "HTTP request latency for metasearch requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	extracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eurobuch_books_extracted_total",
			Help: "Total number of valid book offers extracted from responses.",
		},
	)
	rejected := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eurobuch_books_rejected_total",
			Help: "Total number of Book elements dropped for a missing title or link.",
		},
	)
	conversions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eurobuch_isbn_conversions_total",
			Help: "Total number of ISBN-10 queries rewritten to ISBN-13.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eurobuch_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eurobuch_errors_total",
			Help: "Total number of search errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, extracted, rejected, conversions, retries, errorsTotal)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		BooksExtractedTotal: extracted,
		BooksRejectedTotal:  rejected,
		ConversionsTotal:    conversions,
		RetriesTotal:        retries,
		ErrorsTotal:         errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddBooks records the outcome of one extraction.
func (m *Metrics) AddBooks(extracted, rejected int) {
	if m == nil {
		return
	}
	m.BooksExtractedTotal.Add(float64(extracted))
	m.BooksRejectedTotal.Add(float64(rejected))
}

// IncConversions increments the ISBN conversion counter.
func (m *Metrics) IncConversions() {
	if m == nil {
		return
	}
	m.ConversionsTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
