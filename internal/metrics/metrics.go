// Package metrics defines the Prometheus instruments for the turn pipeline.
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bizchat"

type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts finished turns. Labels: status (ok, not_found, error).
	TurnsTotal *prometheus.CounterVec

	// StepDuration measures each pipeline step. Labels: step.
	StepDuration *prometheus.HistogramVec

	// ToolCallsTotal counts model tool invocations. Labels: tool, outcome (ok, error).
	ToolCallsTotal *prometheus.CounterVec

	// RetrievalHits counts snippets surfaced into prompts. Labels: pool (knowledge, episodic).
	RetrievalHits *prometheus.CounterVec

	// ResolverFailures counts context resolvers whose section was omitted. Labels: resolver.
	ResolverFailures *prometheus.CounterVec

	// ExtractionsTotal counts post-turn extraction outcomes.
	// Labels: outcome (skipped, unchanged, updated, stored, failed).
	ExtractionsTotal *prometheus.CounterVec
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns processed, by final status.",
		}, []string{"status"}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of each pipeline step.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),
		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations requested by the model.",
		}, []string{"tool", "outcome"}),
		RetrievalHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_hits_total",
			Help:      "Retrieved snippets injected into prompts.",
		}, []string{"pool"}),
		ResolverFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_resolver_failures_total",
			Help:      "Context resolvers that failed and were omitted from the prompt.",
		}, []string{"resolver"}),
		ExtractionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Post-turn context extraction outcomes.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(status string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Step(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) ToolCall(tool string, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Hits(pool string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RetrievalHits.WithLabelValues(pool).Add(float64(n))
}

func (m *Metrics) ResolverFailed(resolver string) {
	if m == nil {
		return
	}
	m.ResolverFailures.WithLabelValues(resolver).Inc()
}

func (m *Metrics) Extraction(outcome string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(outcome).Inc()
}
