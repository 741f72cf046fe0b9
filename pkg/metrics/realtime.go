package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RealtimeMetrics records fan-out and bus health for live connections.
type RealtimeMetrics struct {
	broadcastDuration *prometheus.HistogramVec
	deliveries        *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	evictions         prometheus.Counter
	publishRetries    prometheus.Counter
	resyncs           *prometheus.CounterVec
}

// NewRealtimeMetrics registers the realtime metrics on the provided registerer.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	broadcastDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broadcast_duration_seconds",
		Help:    "Duration of topic broadcasts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_deliveries",
		Help: "Messages delivered to live connections.",
	}, []string{"topic"})
	deliveryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_delivery_failures",
		Help: "Failed or timed-out deliveries to live connections.",
	}, []string{"topic"})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connection_evictions",
		Help: "Connections evicted after repeated delivery failures or stale heartbeats.",
	})
	publishRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bus_publish_retries",
		Help: "Envelope publishes deferred to the retry queue.",
	})
	resyncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_resyncs",
		Help: "Store resyncs triggered by sequence gaps or reconnects.",
	}, []string{"topic"})
	reg.MustRegister(broadcastDuration, deliveries, deliveryFailures, evictions, publishRetries, resyncs)
	return &RealtimeMetrics{
		broadcastDuration: broadcastDuration,
		deliveries:        deliveries,
		deliveryFailures:  deliveryFailures,
		evictions:         evictions,
		publishRetries:    publishRetries,
		resyncs:           resyncs,
	}
}

// ObserveBroadcast records the duration of one topic broadcast.
func (m *RealtimeMetrics) ObserveBroadcast(topic string, duration time.Duration) {
	if m == nil || m.broadcastDuration == nil {
		return
	}
	m.broadcastDuration.WithLabelValues(normalizeLabel(topic)).Observe(duration.Seconds())
}

// IncDelivery counts one successful per-connection delivery.
func (m *RealtimeMetrics) IncDelivery(topic string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncDeliveryFailure counts one failed or timed-out delivery.
func (m *RealtimeMetrics) IncDeliveryFailure(topic string) {
	if m == nil || m.deliveryFailures == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncEviction counts one registry-initiated connection eviction.
func (m *RealtimeMetrics) IncEviction() {
	if m == nil || m.evictions == nil {
		return
	}
	m.evictions.Inc()
}

// IncPublishRetry counts one envelope deferred to the publish retry queue.
func (m *RealtimeMetrics) IncPublishRetry() {
	if m == nil || m.publishRetries == nil {
		return
	}
	m.publishRetries.Inc()
}

// IncResync counts one store resync for the topic.
func (m *RealtimeMetrics) IncResync(topic string) {
	if m == nil || m.resyncs == nil {
		return
	}
	m.resyncs.WithLabelValues(normalizeLabel(topic)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
