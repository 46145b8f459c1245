package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// GateDecisions counts eligibility gate outcomes by reason.
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Eligibility gate decisions by reason",
	}, []string{"reason"})

	// Resolutions counts next-question resolutions by resulting action.
	Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_resolutions_total",
		Help: "Next-question resolutions by action",
	}, []string{"action"})

	// Submissions counts committed answer submissions.
	Submissions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "answer_submissions_total",
		Help: "Successfully committed answer submissions",
	})

	// QuotaRejections counts commits rolled back by a quota race.
	QuotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quota_commit_rejections_total",
		Help: "Submissions rejected at commit time because the quota filled",
	})

	// SnapshotQuestions gauges the size of the cached survey structures.
	SnapshotQuestions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_questions",
		Help: "Number of questions currently held in structure snapshots",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, GateDecisions, Resolutions, Submissions, QuotaRejections, SnapshotQuestions)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
