package telemetry

import "testing"

// Nil *Metrics (the disabled state) must make every increment a safe no-op,
// since most of the runtime calls these unconditionally.
func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.IncSent("plain")
	m.IncRecv("plain")
	m.SetActiveEpochs(3)
	m.IncReduction("g")
	m.IncRDMA("get")
	m.SetQueueDepth(1)
}

func TestDisabledNewReturnsNil(t *testing.T) {
	if IsEnabled() {
		t.Skip("telemetry already enabled by another test in this process")
	}
	if got := New(); got != nil {
		t.Fatalf("New() before Enable() should return nil, got %+v", got)
	}
}

// Enable/New is exercised exactly once for the whole package test binary:
// promauto panics on duplicate registration against the shared registry, so
// this must stay the sole place metrics actually get constructed.
func TestEnableThenNewConstructsAllMetrics(t *testing.T) {
	Enable()
	if !IsEnabled() {
		t.Fatalf("IsEnabled should report true after Enable")
	}
	m := New()
	if m == nil {
		t.Fatalf("New() after Enable() should not return nil")
	}
	m.IncSent("collection")
	m.IncRecv("collection")
	m.SetActiveEpochs(2)
	m.IncReduction("group-a")
	m.IncRDMA("put")
	m.SetQueueDepth(5)

	if Handler() == nil {
		t.Fatalf("Handler() should return a non-nil http.Handler")
	}
}
