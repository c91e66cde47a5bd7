package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const outcomeOK = "ok"

// Metrics records per-tool call counts and latencies.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpdispatch",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome (ok or error kind).",
		}, []string{"tool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpdispatch",
			Name:      "tool_call_duration_seconds",
			Help:      "Handler latency for calls that reached a handler.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
	}
	reg.MustRegister(m.calls, m.duration)
	return m
}

func (m *Metrics) observe(tool string, res Result, elapsed time.Duration, invoked bool) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if res.Err != nil {
		outcome = string(res.Err.Kind)
	}
	// unknown names are bucketed so callers cannot grow label cardinality
	if res.Err != nil && res.Err.Kind == KindUnknownTool {
		tool = "unknown"
	}
	m.calls.WithLabelValues(tool, outcome).Inc()
	if invoked {
		m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}
