// Package metrics holds the Prometheus collectors shared by the gateway,
// parser and orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workflowaudit"

type Metrics struct {
	LLMRequests  *prometheus.CounterVec
	LLMLatency   *prometheus.HistogramVec
	LLMTokens    *prometheus.CounterVec
	ParseResults *prometheus.CounterVec
	Tickets      *prometheus.CounterVec
	StageRuns    *prometheus.CounterVec
	Reenrich     *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Text-generation calls by provider, operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Text-generation call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "op"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers.",
		}, []string{"provider"}),
		ParseResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "results_total",
			Help:      "Response recoveries by the stage that succeeded, or unrecoverable.",
		}, []string{"stage"}),
		Tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forensic",
			Name:      "tickets_total",
			Help:      "Per-ticket forensic analyses by outcome.",
		}, []string{"outcome"}),
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forensic",
			Name:      "stage_runs_total",
			Help:      "Generative stage attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Reenrich: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reenrich",
			Name:      "projects_total",
			Help:      "Projects picked up by the re-enrichment job, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.LLMRequests, m.LLMLatency, m.LLMTokens, m.ParseResults, m.Tickets, m.StageRuns, m.Reenrich)
	}
	return m
}

// Nop returns unregistered collectors for callers that do not export metrics.
func Nop() *Metrics {
	return New(nil)
}
