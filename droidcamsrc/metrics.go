package droidcamsrc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/moralrecordings/gst-droid/internal/pad"
)

const metricsNamespace = "droidcamsrc"

// metrics of one element. With a nil registerer nothing is exported but
// all collectors still work.
type metrics struct {
	reg prometheus.Registerer

	enqueued     *prometheus.CounterVec
	delivered    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	negotiations *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	ready        prometheus.Gauge
	poolDropped  prometheus.CounterFunc

	collectors []prometheus.Collector
}

func newMetrics(reg prometheus.Registerer, element string, poolDropped func() float64) *metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"element": element}

	m := &metrics{reg: reg}
	m.enqueued = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "buffers_enqueued_total",
		Help:        "Buffers queued on a source pad by the camera",
		ConstLabels: labels,
	}, []string{"pad"})
	m.delivered = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "buffers_delivered_total",
		Help:        "Buffers accepted downstream",
		ConstLabels: labels,
	}, []string{"pad"})
	m.dropped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "buffers_dropped_total",
		Help:        "Buffers released because the pad was inactive",
		ConstLabels: labels,
	}, []string{"pad"})
	m.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "delivery_failures_total",
		Help:        "Buffers rejected downstream",
		ConstLabels: labels,
	}, []string{"pad"})
	m.negotiations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "negotiations_total",
		Help:        "Caps committed on a pad",
		ConstLabels: labels,
	}, []string{"pad"})
	m.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "state_transitions_total",
		Help:        "State transitions by outcome",
		ConstLabels: labels,
	}, []string{"transition", "result"})
	m.ready = factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "ready_for_capture",
		Help:        "1 when the element accepts a capture request",
		ConstLabels: labels,
	})
	m.poolDropped = factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "pool_frames_dropped_total",
		Help:        "Camera frames dropped because no pad was bound",
		ConstLabels: labels,
	}, poolDropped)

	m.collectors = []prometheus.Collector{
		m.enqueued, m.delivered, m.dropped, m.failures, m.negotiations,
		m.transitions, m.ready, m.poolDropped,
	}
	return m
}

func (m *metrics) forPad(name string) pad.Metrics {
	return pad.Metrics{
		Enqueued:     m.enqueued.WithLabelValues(name),
		Delivered:    m.delivered.WithLabelValues(name),
		Dropped:      m.dropped.WithLabelValues(name),
		Failures:     m.failures.WithLabelValues(name),
		Negotiations: m.negotiations.WithLabelValues(name),
	}
}

func (m *metrics) setReady(ready bool) {
	if ready {
		m.ready.Set(1)
	} else {
		m.ready.Set(0)
	}
}

func (m *metrics) unregister() {
	if m.reg == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}
