// Package metrics provides Prometheus metrics for the mediainfo service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediainfo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediainfo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Analyzer metrics
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediainfo_analyses_total",
			Help: "Total mediainfo invocations",
		},
		[]string{"format", "target", "status"},
	)

	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediainfo_analysis_duration_seconds",
			Help:    "Time spent waiting on mediainfo",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format", "target"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediainfo_cache_lookups_total",
			Help: "Total sidecar cache lookups by outcome",
		},
		[]string{"result"},
	)

	cacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediainfo_cache_writes_total",
			Help: "Total sidecar cache writes",
		},
		[]string{"status"},
	)

	// Share metrics
	shareAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediainfo_share_available",
			Help: "Whether the mount of a share was accessible at the last status check",
		},
		[]string{"share"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetShareAvailable records the result of a share mount check.
func SetShareAvailable(share string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	shareAvailable.WithLabelValues(share).Set(v)
}

// Middleware returns echo middleware that records request metrics. The
// route pattern rather than the request path is used as the label so
// that file paths do not explode the label cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			RecordHTTPRequest(c.Request().Method, c.Path(), c.Response().Status, time.Since(start))
			return nil
		}
	}
}

// Recorder feeds resolver observations in to the Prometheus metrics.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (*Recorder) ObserveCacheLookup(status string) {
	cacheLookupsTotal.WithLabelValues(status).Inc()
}

func (*Recorder) ObserveCacheWrite(err error) {
	cacheWritesTotal.WithLabelValues(outcome(err)).Inc()
}

func (*Recorder) ObserveAnalysis(formatName string, target string, elapsed time.Duration, err error) {
	analysisDuration.WithLabelValues(formatName, target).Observe(elapsed.Seconds())
	analysesTotal.WithLabelValues(formatName, target, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
