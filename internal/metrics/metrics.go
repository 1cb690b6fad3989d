package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/aformulationoftruth/questionnaire/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "questionnaire",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	// Auth flow metrics

	MagicLinksSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "magic_links_sent_total",
		Help:      "Magic-link emails successfully handed to the sender.",
	})

	MintRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "mint_rollbacks_total",
		Help:      "Compensating rollbacks after a failed magic-link send.",
	})

	VerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "verifications_total",
		Help:      "Magic-link verification outcomes, by error code or ok.",
	}, []string{"outcome"})

	EmailRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "email_rejections_total",
		Help:      "Rejected email submissions, malformed vs suspicious.",
	}, []string{"reason"})

	// Questionnaire metrics

	AnswersRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "answers_recorded_total",
		Help:      "Recorded answers, by kind (answered or skipped).",
	}, []string{"kind"})

	CompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "completions_total",
		Help:      "Sessions that reached the end of the questionnaire.",
	})

	// Pruner metrics

	PrunedRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questionnaire",
		Name:      "pruned_rows_total",
		Help:      "Rows removed by the maintenance sweep, by table.",
	}, []string{"table"})

	PrunerSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "questionnaire",
		Name:      "pruner_sweep_duration_seconds",
		Help:      "Time taken for one maintenance sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)

func Register() {
	prometheus.MustRegister(
		HTTPRequestDuration,
		HTTPRequestsTotal,
		MagicLinksSentTotal,
		MintRollbacksTotal,
		VerificationsTotal,
		EmailRejectionsTotal,
		AnswersRecordedTotal,
		CompletionsTotal,
		PrunedRowsTotal,
		PrunerSweepDuration,
	)
}

// NewServer exposes the Prometheus registry plus liveness/readiness probes
// on a port separate from user traffic.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		writeHealth(w, status, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, status int, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
