package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devicefinder"

var (
	// RateLimitDecisions counts admissions by backend and outcome.
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit admissions by backend and outcome.",
	}, []string{"backend", "outcome"})

	// LLMAttempts counts completion attempts per backend.
	LLMAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "attempts_total",
		Help:      "Completion attempts by backend and outcome.",
	}, []string{"backend", "outcome"})

	// LLMFallbacks counts calls answered by the secondary backend.
	LLMFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "fallbacks_total",
		Help:      "Completions that fell back to the secondary backend.",
	})

	// LLMLatency observes backend call latency.
	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Backend completion latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"backend"})

	// AgentRequests counts recommendation requests per category and outcome.
	AgentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "requests_total",
		Help:      "Recommendation requests by category and outcome.",
	}, []string{"category", "outcome"})

	// ChatTurns counts chatbot turns by outcome.
	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "turns_total",
		Help:      "Chat turns by outcome.",
	}, []string{"outcome"})

	// IngestedDevices counts catalog rows written per category.
	IngestedDevices = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "devices_total",
		Help:      "Devices upserted by ingestion runs.",
	}, []string{"category"})

	// HTTPRequests counts served requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)
