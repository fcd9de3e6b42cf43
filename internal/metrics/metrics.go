// Package metrics exposes Prometheus collectors for generation runs.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docfill_http_requests_total",
	Help: "Total number of requests labelled by route and status",
}, []string{"path", "status"})

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docfill_runs_total",
	Help: "Generation runs labelled by outcome (done or the failing stage)",
}, []string{"outcome"})

var runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "docfill_run_duration_seconds",
	Help:    "Wall time of a full generation run.",
	Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
})

var modelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docfill_model_calls_total",
	Help: "Language model calls labelled by kind (summarize, generate) and status",
}, []string{"kind", "status"})

var modelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docfill_model_latency_seconds",
	Help:    "Latency of language model calls.",
	Buckets: []float64{.25, .5, 1, 2, 5, 10, 30, 60},
}, []string{"kind"})

var pdfExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docfill_pdf_extractions_total",
	Help: "PDF reports processed, labelled by status (ok or failed)",
}, []string{"status"})

var inputTokens = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "docfill_input_tokens",
	Help:    "Estimated tokens of report text plus template per run.",
	Buckets: prometheus.ExponentialBuckets(500, 2, 10),
})

// ObserveRun records the outcome and duration of one run.
func ObserveRun(outcome string, elapsed time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(elapsed.Seconds())
}

// ObserveModelCall records one language model call.
func ObserveModelCall(kind string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	modelCalls.WithLabelValues(kind, status).Inc()
	modelLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func ObservePDF(status string) {
	pdfExtractions.WithLabelValues(status).Inc()
}

func ObserveTokens(n int) {
	inputTokens.Observe(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through so websocket upgrades work behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// OtherRoute labels requests for paths outside the registered routes.
const OtherRoute = "other"

// Middleware counts requests by route and response status. Paths not listed
// in routes are counted under OtherRoute so the label set stays bounded.
func Middleware(next http.Handler, routes ...string) http.Handler {
	known := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		known[route] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		label := OtherRoute
		if _, ok := known[r.URL.Path]; ok {
			label = r.URL.Path
		}
		httpRequestsTotal.WithLabelValues(label, strconv.Itoa(rec.status)).Inc()
	})
}

// Recorder adapts the package collectors to the pipeline's metrics hook.
type Recorder struct{}

func (Recorder) ModelCall(kind string, elapsed time.Duration, err error) {
	ObserveModelCall(kind, elapsed, err)
}

func (Recorder) PDF(status string) { ObservePDF(status) }

func (Recorder) Tokens(n int) { ObserveTokens(n) }

func (Recorder) Run(outcome string, elapsed time.Duration) { ObserveRun(outcome, elapsed) }
