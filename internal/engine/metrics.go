package engine

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
	outcomeDropped   = "dropped"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	dispatch *prometheus.HistogramVec
	queued   *prometheus.GaugeVec
	open     *prometheus.GaugeVec
	adapters *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowd",
			Name:      "flow_events_started_total",
			Help:      "Flow events opened, by graph and adapter.",
		}, []string{"graph", "adapter"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowd",
			Name:      "flow_events_finished_total",
			Help:      "Flow events finished, by graph, adapter and outcome.",
		}, []string{"graph", "adapter", "outcome"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowd",
			Name:      "dispatch_duration_seconds",
			Help:      "Round-trip time of calls to target components.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"graph", "adapter", "code"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowd",
			Name:      "inbox_queued_records",
			Help:      "Pending inbox messages at the last back-pressure sample.",
		}, []string{"graph", "adapter"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowd",
			Name:      "egress_open_messages",
			Help:      "Asynchronous dispatches awaiting a response.",
		}, []string{"graph", "adapter"}),
		adapters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowd",
			Name:      "adapters_active",
			Help:      "Active runtime adapters, by graph and type.",
		}, []string{"graph", "type"}),
	}
	reg.MustRegister(m.started, m.finished, m.dispatch, m.queued, m.open, m.adapters)
	return m
}

func (m *Metrics) eventStarted(a *Adapter) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(a.graph, a.Name()).Inc()
}

func (m *Metrics) eventFinished(a *Adapter, outcome string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(a.graph, a.Name(), outcome).Inc()
}

func (m *Metrics) dispatchObserved(a *Adapter, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(a.graph, a.Name(), strconv.Itoa(code)).Observe(d.Seconds())
}

func (m *Metrics) queueDepth(a *Adapter, depth int64) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(a.graph, a.Name()).Set(float64(depth))
}

func (m *Metrics) openMessages(a *Adapter) {
	if m == nil {
		return
	}
	m.open.WithLabelValues(a.graph, a.Name()).Set(float64(a.open.Load()))
}

func (m *Metrics) adapterActivated(a *Adapter) {
	if m == nil {
		return
	}
	m.adapters.WithLabelValues(a.graph, string(a.Type())).Inc()
}

func (m *Metrics) adapterTornDown(a *Adapter) {
	if m == nil {
		return
	}
	m.adapters.WithLabelValues(a.graph, string(a.Type())).Dec()
	m.queued.DeleteLabelValues(a.graph, a.Name())
	m.open.DeleteLabelValues(a.graph, a.Name())
}
