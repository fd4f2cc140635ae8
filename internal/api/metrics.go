package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelmask/internal/domain"
	"github.com/dunamismax/pixelmask/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is shared between the HTTP layer and the pipeline, which reports
// per-stage timings through ObserveStage.
type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	renderTotal       *prometheus.CounterVec
	renderFailures    *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	pixelsProcessed   prometheus.Counter
	outputBytes       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmask_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmask_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmask_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		renderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmask_renders_total",
			Help: "Total images rendered, by obscuring variant.",
		}, []string{"variant"}),
		renderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmask_render_failures_total",
			Help: "Total rejected or failed watermark requests, by failure kind.",
		}, []string{"kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelmask_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage", "outcome"}),
		pixelsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelmask_pixels_processed_total",
			Help: "Total output pixels produced.",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelmask_output_bytes_total",
			Help: "Total encoded output bytes returned.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.renderTotal,
		m.renderFailures,
		m.stageDuration,
		m.pixelsProcessed,
		m.outputBytes,
	)
	return m
}

// ObserveStage implements pipeline.StageObserver.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRender(variant domain.Variant, result pipeline.Result) {
	m.renderTotal.WithLabelValues(string(variant)).Inc()
	m.pixelsProcessed.Add(float64(result.Width) * float64(result.Height))
	m.outputBytes.Add(float64(len(result.Data)))
}

func (m *Metrics) observeFailure(kind string) {
	m.renderFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses unknown paths so scanners cannot grow label cardinality.
func routeLabel(path string) string {
	switch path {
	case RouteWatermark, RouteHealthz, RouteMetrics:
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
