package metrics

import "github.com/prometheus/client_golang/prometheus"

// BoardMetrics exposes counters and histograms for status mutations, the
// activity log and the realtime feed.
type BoardMetrics struct {
	mutations       *prometheus.CounterVec
	writeLatency    prometheus.Histogram
	eventFailures   *prometheus.CounterVec
	changes         *prometheus.CounterVec
	feedReconnects  prometheus.Counter
	outboxDepth     prometheus.Gauge
	outboxDelivered *prometheus.CounterVec
	wsDropped       *prometheus.CounterVec
}

func NewBoardMetrics(reg prometheus.Registerer) *BoardMetrics {
	m := &BoardMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "statusboard",
			Name:      "status_mutations_total",
			Help:      "Appointment status change attempts by outcome",
		}, []string{"outcome"}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "statusboard",
			Name:      "status_write_seconds",
			Help:      "Latency of appointment status writes against the store",
			Buckets:   prometheus.DefBuckets,
		}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "activity",
			Name:      "event_write_failures_total",
			Help:      "Transition events that could not be written on first attempt",
		}, []string{"stage"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "realtime",
			Name:      "changes_total",
			Help:      "Row changes received from the change feed",
		}, []string{"dataset", "type"}),
		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "realtime",
			Name:      "feed_reconnects_total",
			Help:      "Times the change feed lost its listener connection",
		}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "activity",
			Name:      "outbox_pending",
			Help:      "Transition events waiting for redelivery",
		}),
		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "activity",
			Name:      "outbox_redeliveries_total",
			Help:      "Outbox redelivery attempts by result",
		}, []string{"result"}),
		wsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "realtime",
			Name:      "websocket_dropped_total",
			Help:      "Changes skipped for slow WebSocket clients",
		}, []string{"dataset"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.mutations, m.writeLatency, m.eventFailures, m.changes,
		m.feedReconnects, m.outboxDepth, m.outboxDelivered, m.wsDropped)
	return m
}

// ObserveMutation counts a status change attempt. Outcome is one of
// "applied", "noop", "rejected", "reverted" or "failed".
func (m *BoardMetrics) ObserveMutation(outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(outcome).Inc()
}

func (m *BoardMetrics) ObserveWriteLatency(seconds float64) {
	if m == nil {
		return
	}
	m.writeLatency.Observe(seconds)
}

func (m *BoardMetrics) ObserveEventFailure(stage string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(stage).Inc()
}

func (m *BoardMetrics) ObserveChange(dataset, changeType string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(dataset, changeType).Inc()
}

func (m *BoardMetrics) ObserveFeedReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

func (m *BoardMetrics) SetOutboxDepth(n int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(n))
}

func (m *BoardMetrics) ObserveRedelivery(result string) {
	if m == nil {
		return
	}
	m.outboxDelivered.WithLabelValues(result).Inc()
}

func (m *BoardMetrics) ObserveDropped(dataset string) {
	if m == nil {
		return
	}
	m.wsDropped.WithLabelValues(dataset).Inc()
}
