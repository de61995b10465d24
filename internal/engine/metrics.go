package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine outcomes. A nil *Metrics records nothing.
type Metrics struct {
	// Transitions by from, to and outcome ("ok" or an error class)
	Transitions *prometheus.CounterVec

	// Gate operations by operation and outcome
	GateOperations *prometheus.CounterVec

	// Detached side effects that failed, by kind ("notification", "commission")
	SideEffectFailures *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakeline_transitions_total",
			Help: "Client status transitions by origin, destination and outcome",
		}, []string{"from", "to", "outcome"}),

		GateOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakeline_gate_operations_total",
			Help: "Platform verification gate operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intakeline_side_effect_failures_total",
			Help: "Best-effort side effects that failed after a committed transition",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncTransition(from, to, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to, outcome).Inc()
	}
}

func (m *Metrics) IncGate(op, outcome string) {
	if m != nil {
		m.GateOperations.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) IncSideEffectFailure(kind string) {
	if m != nil {
		m.SideEffectFailures.WithLabelValues(kind).Inc()
	}
}
