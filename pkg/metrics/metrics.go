// Package metrics exposes the Prometheus instruments shared by the graph,
// the decision controller and the tool catalog.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grooming"

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder owns a private registry so several recorders can coexist in tests.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	nodeVisits   *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_visits_total",
			Help:      "Total number of graph node executions.",
		}, []string{"graph", "node", "outcome"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of suspensions awaiting a human decision.",
		}, []string{"node"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of applied human decisions.",
		}, []string{"action"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool executions.",
		}, []string{"agent", "tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	r.registry.MustRegister(
		r.nodeVisits,
		r.interrupts,
		r.decisions,
		r.toolCalls,
		r.toolDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

func (r *Recorder) NodeVisited(graph, node string, err error) {
	if r == nil {
		return
	}
	r.nodeVisits.WithLabelValues(graph, node, outcome(err)).Inc()
}

func (r *Recorder) Interrupted(node string) {
	if r == nil {
		return
	}
	r.interrupts.WithLabelValues(node).Inc()
}

func (r *Recorder) Decided(action string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(action).Inc()
}

func (r *Recorder) ToolCalled(agent, tool string, err error) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(agent, tool, outcome(err)).Inc()
}

func (r *Recorder) ObserveToolDuration(tool string, d time.Duration) {
	if r == nil {
		return
	}
	r.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
