package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verdict outcomes recorded by the answer judge.
const (
	OutcomeExact        = "exact"
	OutcomeJudgeCorrect = "judge_correct"
	OutcomePartial      = "partial"
	OutcomeUnavailable  = "unavailable"
	OutcomeEmpty        = "empty"
)

var (
	Verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_verdicts_total",
			Help: "Answer verdicts by outcome",
		},
		[]string{"outcome"},
	)

	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_generations_total",
			Help: "Hint and explanation lookups by kind and source",
		},
		[]string{"kind", "source"},
	)

	AttemptsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessor_attempts_completed_total",
			Help: "Attempts transitioned to completed",
		},
	)

	AggregationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assessor_aggregation_failures_total",
			Help: "Performance aggregation failures after attempt completion",
		},
	)

	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assessor_external_call_duration_seconds",
			Help:    "Duration of judgment and generation calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"call"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assessor_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		Verdicts,
		Generations,
		AttemptsCompleted,
		AggregationFailures,
		ExternalCallDuration,
		RequestCounter,
		RequestDuration,
	)
}

// ObserveCall records the duration of an external call started at start.
func ObserveCall(call string, start time.Time) {
	ExternalCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

// UnmatchedRoute labels requests that matched no chi route.
const UnmatchedRoute = "unmatched"

// Middleware records request counts and durations labeled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := UnmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
