package main

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/randilt/geckomem/memstore"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	multipartUploads *prometheus.CounterVec
}

// usageCollector reports the store's footprint from a single tree walk per
// scrape.
type usageCollector struct {
	store *memstore.Storage
	bytes *prometheus.Desc
	files *prometheus.Desc
	dirs  *prometheus.Desc
}

func newUsageCollector(store *memstore.Storage) *usageCollector {
	return &usageCollector{
		store: store,
		bytes: prometheus.NewDesc("geckomem_stored_bytes", "Bytes held by file payloads.", nil, nil),
		files: prometheus.NewDesc("geckomem_stored_files", "Number of file nodes.", nil, nil),
		dirs:  prometheus.NewDesc("geckomem_stored_directories", "Number of directory nodes, buckets included.", nil, nil),
	}
}

func (c *usageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.files
	ch <- c.dirs
}

func (c *usageCollector) Collect(ch chan<- prometheus.Metric) {
	files, dirs, size := c.store.Usage()
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(size))
	ch <- prometheus.MustNewConstMetric(c.files, prometheus.GaugeValue, float64(files))
	ch <- prometheus.MustNewConstMetric(c.dirs, prometheus.GaugeValue, float64(dirs))
}

func NewMetrics(store *memstore.Storage) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geckomem_http_requests_total",
				Help: "HTTP requests handled, by method and status code.",
			},
			[]string{"method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geckomem_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		multipartUploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geckomem_multipart_uploads_total",
				Help: "Multipart upload lifecycle events.",
			},
			[]string{"event"}, // created | completed | aborted
		),
	}

	m.Registry.MustRegister(m.requestsTotal, m.requestDuration, m.multipartUploads)

	if store != nil {
		m.Registry.MustRegister(newUsageCollector(store))
	}
	return m
}

func (m *Metrics) multipartEvent(event string) {
	if m == nil {
		return
	}
	m.multipartUploads.WithLabelValues(event).Inc()
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// WritePrometheus writes every registered metric in the text exposition
// format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.FmtText))
		if err := m.WritePrometheus(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
