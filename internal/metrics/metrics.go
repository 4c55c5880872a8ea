package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "defi_advisor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defi_advisor",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Advisory tick metrics ──────────────────────────────────────────────

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "tick",
		Name:      "total",
		Help:      "Total advisory ticks by outcome.",
	}, []string{"status"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "defi_advisor",
		Subsystem: "tick",
		Name:      "duration_seconds",
		Help:      "Duration of a full advisory tick in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	UsersEvaluatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "tick",
		Name:      "users_evaluated_total",
		Help:      "Per-user evaluations by outcome.",
	}, []string{"status"})
)

// ── Gas oracle metrics ─────────────────────────────────────────────────

var (
	GasSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "gas",
		Name:      "samples_total",
		Help:      "Total gas fee samples by outcome.",
	}, []string{"chain", "status"})

	GasFeeGwei = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "defi_advisor",
		Subsystem: "gas",
		Name:      "fee_gwei",
		Help:      "Latest sampled gas fee in gwei.",
	}, []string{"chain"})

	GasLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "defi_advisor",
		Subsystem: "gas",
		Name:      "level",
		Help:      "Latest gas level (0 cheap, 1 normal, 2 expensive).",
	}, []string{"chain"})
)

// ── Risk assessment metrics ────────────────────────────────────────────

var (
	AssessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "risk",
		Name:      "assessments_total",
		Help:      "Total risk assessments by freshness.",
	}, []string{"status"})
)

// ── Notification metrics ───────────────────────────────────────────────

var (
	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Total advisory notifications delivered.",
	}, []string{"kind"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "notify",
		Name:      "failed_total",
		Help:      "Total advisory notification delivery failures.",
	}, []string{"kind"})

	NotificationsDedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "notify",
		Name:      "deduplicated_total",
		Help:      "Total advisory notifications suppressed by cooldown dedup.",
	}, []string{"kind"})
)

// ── Calendar sync metrics ──────────────────────────────────────────────

var (
	CalendarSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "calendar",
		Name:      "syncs_total",
		Help:      "Calendar mutations by operation and outcome.",
	}, []string{"op", "status"})
)

// ── Collaborator error metrics ─────────────────────────────────────────

var (
	CollaboratorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defi_advisor",
		Subsystem: "collaborator",
		Name:      "errors_total",
		Help:      "Failures talking to external collaborators.",
	}, []string{"collaborator"})
)
