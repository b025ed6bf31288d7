// Package telemetry exports the Prometheus metrics vtrt's managers
// increment: messages sent/received, active epoch count, reduction/RDMA op
// counters, scheduler queue depth. A package-level registry, metrics
// constructed once via promauto, nil-safe when disabled.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

// Metrics bundles every counter/gauge vtrt's managers touch. A nil
// *Metrics makes every method a no-op.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesRecv     *prometheus.CounterVec
	ActiveEpochs     prometheus.Gauge
	ReductionOps     *prometheus.CounterVec
	RDMAOps          *prometheus.CounterVec
	SchedulerQueue   prometheus.Gauge
}

var enabled bool

// Enable switches on metric registration; must be called (at most once)
// before New is used, typically from cmd/vtnode when VT_METRICS_ADDR is set.
func Enable() { enabled = true }

// IsEnabled reports whether Enable was called.
func IsEnabled() bool { return enabled }

// New constructs the metric set, or returns nil if telemetry is disabled.
func New() *Metrics {
	if !enabled {
		return nil
	}
	return &Metrics{
		MessagesSent: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{Name: "vtrt_messages_sent_total", Help: "Active messages sent, by handler kind."},
			[]string{"kind"},
		),
		MessagesRecv: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{Name: "vtrt_messages_received_total", Help: "Active messages dispatched, by handler kind."},
			[]string{"kind"},
		),
		ActiveEpochs: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{Name: "vtrt_active_epochs", Help: "Epochs currently tracked and not yet terminated."},
		),
		ReductionOps: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{Name: "vtrt_reduction_ops_total", Help: "Reduction contributions processed, by group."},
			[]string{"group"},
		),
		RDMAOps: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{Name: "vtrt_rdma_ops_total", Help: "RDMA get/put operations, by op type."},
			[]string{"op"},
		),
		SchedulerQueue: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{Name: "vtrt_scheduler_queue_depth", Help: "Work units currently queued on this node's scheduler."},
		),
	}
}

// IncSent is a nil-safe increment, so callers don't have to guard every
// call site with "if m != nil".
func (m *Metrics) IncSent(kind string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRecv(kind string) {
	if m == nil {
		return
	}
	m.MessagesRecv.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActiveEpochs(n int) {
	if m == nil {
		return
	}
	m.ActiveEpochs.Set(float64(n))
}

func (m *Metrics) IncReduction(group string) {
	if m == nil {
		return
	}
	m.ReductionOps.WithLabelValues(group).Inc()
}

func (m *Metrics) IncRDMA(op string) {
	if m == nil {
		return
	}
	m.RDMAOps.WithLabelValues(op).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SchedulerQueue.Set(float64(n))
}

// Handler returns the HTTP handler serving this process's metrics in the
// Prometheus exposition format, for cmd/vtnode to mount at VT_METRICS_ADDR.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
