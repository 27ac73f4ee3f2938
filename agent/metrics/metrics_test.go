package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouterCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewRouter(reg)

	m.Step("intake", "intent_cancellation")
	m.Transition("intake", "retention")
	m.Transition("retention", "retention")
	m.Escalated()
	m.Reject("processor", "illegal_transition")

	if got := testutil.ToFloat64(m.Turns.WithLabelValues("intake", "intent_cancellation")); got != 1 {
		t.Fatalf("steps = %v", got)
	}
	if got := testutil.CollectAndCount(m.Transitions); got != 1 {
		t.Fatalf("self transitions should not be counted, series = %d", got)
	}
	if got := testutil.ToFloat64(m.Escalations); got != 1 {
		t.Fatalf("escalations = %v", got)
	}
}

func TestNilRouterIsNoop(t *testing.T) {
	t.Parallel()

	var m *Router
	m.Step("intake", "ambiguous")
	m.Transition("intake", "retention")
	m.Escalated()
	m.ExternalFailure("intake")
	m.Reject("intake", "x")
}
