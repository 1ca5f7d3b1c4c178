package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	joinsTotal          *prometheus.CounterVec
	joinDuration        prometheus.Histogram
	hostnameRenames     prometheus.Counter
	dnsQueries          *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP, join and resolver metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the control plane",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hostbridge",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the control plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	joinsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Name:      "joins_total",
		Help:      "Join events handled, by the source of the assigned hostname or by failure",
	}, []string{"outcome"})

	joinDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hostbridge",
		Name:      "join_duration_seconds",
		Help:      "Time from join event to hostname registration, including enrichment",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	hostnameRenames := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Name:      "hostname_renames_total",
		Help:      "Registrations whose requested hostname was taken and had to be suffixed",
	})

	dnsQueries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Name:      "dns_queries_total",
		Help:      "DNS queries answered by the responder, by response code",
	}, []string{"rcode"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		joinsTotal,
		joinDuration,
		hostnameRenames,
		dnsQueries,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		joinsTotal:          joinsTotal,
		joinDuration:        joinDuration,
		hostnameRenames:     hostnameRenames,
		dnsQueries:          dnsQueries,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveJoin records one handled join event. outcome is the hostname source
// ("static", "event", "snmp", ...) or "error".
func (m *Metrics) ObserveJoin(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.joinsTotal.WithLabelValues(outcome).Inc()
	m.joinDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncHostnameRename() {
	if m == nil {
		return
	}
	m.hostnameRenames.Inc()
}

func (m *Metrics) IncDNSQuery(rcode string) {
	if m == nil {
		return
	}
	m.dnsQueries.WithLabelValues(rcode).Inc()
}

// TrackStaticMappings exports the registry size, read at scrape time.
func (m *Metrics) TrackStaticMappings(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hostbridge",
		Name:      "static_mappings",
		Help:      "Number of MAC to hostname mappings in the registry",
	}, func() float64 { return float64(count()) }))
}

// TrackStore exports the number of hostnames held by one resolver store. Each
// store name may be tracked once.
func (m *Metrics) TrackStore(store string, count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "hostbridge",
		Name:        "registered_hostnames",
		Help:        "Number of hostnames currently held by each store",
		ConstLabels: prometheus.Labels{"store": store},
	}, func() float64 { return float64(count()) }))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
