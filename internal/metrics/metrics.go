// Path: internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "push_broker"
	subsystem = "channels"
)

// Eviction reasons.
const (
	ReasonClosed      = "closed"
	ReasonWriteFailed = "write_failed"
	ReasonStale       = "stale"
	ReasonMissing     = "missing_record"
	ReasonOrphan      = "orphan"
	ReasonShutdown    = "shutdown"
)

// Metrics exposes Prometheus collectors that report broker activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	channelsActive  prometheus.Gauge
	eventsDelivered *prometheus.CounterVec
	writeFailures   *prometheus.CounterVec
	evictions       *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		channelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of push channels owned by this process.",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_delivered_total",
			Help:      "Events accepted by a local channel handle.",
		}, []string{"type"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_failures_total",
			Help:      "Events rejected by a local channel handle.",
		}, []string{"type"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evictions_total",
			Help:      "Channels unregistered, by reason.",
		}, []string{"reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "registry_errors_total",
			Help:      "Failed registry store operations, by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(m.channelsActive, m.eventsDelivered, m.writeFailures, m.evictions, m.storeErrors)
	return m
}

// SetActive records the number of locally owned channels.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.channelsActive.Set(float64(n))
}

// Delivered counts an accepted write.
func (m *Metrics) Delivered(eventType string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(eventType).Inc()
}

// WriteFailed counts a rejected write.
func (m *Metrics) WriteFailed(eventType string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(eventType).Inc()
}

// Evicted counts an unregistration.
func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

// StoreError counts a failed registry operation.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}
