package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for judging, scoring and the leaderboard mirror.
type Metrics struct {
	Registry *prometheus.Registry

	SubmissionsTotal     *prometheus.CounterVec
	SandboxDuration      *prometheus.HistogramVec
	SandboxErrors        *prometheus.CounterVec
	XPAwardedTotal       prometheus.Counter
	LeaderboardSyncFails prometheus.Counter
}

// New creates and registers all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "submissions_total",
				Help:      "Judged submissions by language and verdict.",
			},
			[]string{"language", "verdict"},
		),

		SandboxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "sandbox_duration_seconds",
				Help:      "Round-trip time of sandbox executions.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"language"},
		),

		SandboxErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "sandbox_errors_total",
				Help:      "Sandbox call failures by kind (timeout, unreachable, bad_response).",
			},
			[]string{"kind"},
		),

		XPAwardedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "xp_awarded_total",
				Help:      "Experience points awarded on first-time accepted solves.",
			},
		),

		LeaderboardSyncFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "leaderboard_sync_errors_total",
				Help:      "Failed writes to the ranked leaderboard cache.",
			},
		),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.SandboxDuration,
		m.SandboxErrors,
		m.XPAwardedTotal,
		m.LeaderboardSyncFails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
