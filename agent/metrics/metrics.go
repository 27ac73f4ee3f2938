package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Router holds the turn-level counters. A nil *Router records nothing.
type Router struct {
	Turns            *prometheus.CounterVec // by role and signal
	Transitions      *prometheus.CounterVec // by from and to
	Escalations      prometheus.Counter
	ExternalFailures *prometheus.CounterVec // by role
	Rejected         *prometheus.CounterVec // by role and cause
}

func NewRouter(reg prometheus.Registerer) *Router {
	m := &Router{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_router_role_steps_total",
			Help: "Role steps executed, by role and emitted signal",
		}, []string{"role", "signal"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_router_transitions_total",
			Help: "Committed role transitions",
		}, []string{"from", "to"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_router_escalations_total",
			Help: "Conversations forced to human handoff by the attempt cap",
		}),
		ExternalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_router_external_failures_total",
			Help: "Role steps that failed after exhausting retries",
		}, []string{"role"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_router_rejected_proposals_total",
			Help: "Role proposals discarded by the router",
		}, []string{"role", "cause"}),
	}

	if reg != nil {
		reg.MustRegister(m.Turns, m.Transitions, m.Escalations, m.ExternalFailures, m.Rejected)
	}
	return m
}

func (m *Router) Step(role, signal string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(role, signal).Inc()
}

func (m *Router) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Router) Escalated() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

func (m *Router) ExternalFailure(role string) {
	if m == nil {
		return
	}
	m.ExternalFailures.WithLabelValues(role).Inc()
}

func (m *Router) Reject(role, cause string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(role, cause).Inc()
}
