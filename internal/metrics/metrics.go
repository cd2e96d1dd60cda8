// Package metrics exposes Prometheus counters for the HTTP edge and the auth flows.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	devicePolls         *prometheus.CounterVec
	refreshes           *prometheus.CounterVec
	refreshReplays      prometheus.Counter
	rateLimited         *prometheus.CounterVec
	reaped              *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skills_auth_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skills_auth_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		devicePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skills_auth_device_polls_total",
			Help: "Device code polls by outcome",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skills_auth_token_refreshes_total",
			Help: "Refresh token redemptions by result",
		}, []string{"result"}), // rotated|reused|rejected
		refreshReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skills_auth_refresh_replays_total",
			Help: "Already used refresh tokens presented again",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skills_auth_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"path"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skills_auth_reaped_rows_total",
			Help: "Expired rows deleted by the reaper",
		}, []string{"table"}),
	}
	for _, c := range []prometheus.Collector{
		m.httpRequestsTotal, m.httpRequestDuration, m.devicePolls, m.refreshes,
		m.refreshReplays, m.rateLimited, m.reaped,
		prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// WithMetrics counts requests and observes their latency.
func (m *Metrics) WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)
		start := time.Now()

		rec := &StatusRecorder{ResponseWriter: w}
		defer func() {
			m.httpRequestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())
			m.httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(rec.Status())).Inc()
		}()
		next.ServeHTTP(rec, r)
	})
}

func (m *Metrics) RecordDevicePoll(status string) {
	m.devicePolls.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRefresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRefreshReplay() {
	m.refreshReplays.Inc()
}

func (m *Metrics) RecordRateLimited(path string) {
	m.rateLimited.WithLabelValues(normalizePath(path)).Inc()
}

func (m *Metrics) RecordReaped(table string, n int64) {
	m.reaped.WithLabelValues(table).Add(float64(n))
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *StatusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

var (
	uuidSegmentRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F-]{4}-[0-9a-fA-F-]{4,}$`)
	hexSegmentRE   = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	tokenSegmentRE = regexp.MustCompile(`^[A-Za-z0-9_-]{24,}$`)
)

// normalizePath replaces ids in a path so label cardinality stays bounded.
func normalizePath(p string) string {
	var out []string
	for _, seg := range strings.Split(strings.SplitN(p, "?", 2)[0], "/") {
		switch {
		case seg == "":
			continue
		case len(seg) > 48, uuidSegmentRE.MatchString(seg), hexSegmentRE.MatchString(seg), tokenSegmentRE.MatchString(seg):
			out = append(out, ":param")
		default:
			if _, err := strconv.Atoi(seg); err == nil {
				out = append(out, ":param")
			} else {
				out = append(out, seg)
			}
		}
	}
	return "/" + strings.Join(out, "/")
}
