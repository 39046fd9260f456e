// Package metrics exposes Prometheus collectors for the realtime and
// notification paths.
//
// Each Metrics value owns its registry so independent instances (tests,
// embedded servers) never collide on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wormhole"

// Metrics groups the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	// LiveClients tracks accepted websocket clients across all spaces.
	LiveClients prometheus.Gauge

	// ClientRemovals counts clients leaving the registry.
	// Labels: reason (disconnect|evicted)
	ClientRemovals *prometheus.CounterVec

	// BroadcastDeliveries counts per-client broadcast writes.
	// Labels: result (delivered|failed)
	BroadcastDeliveries *prometheus.CounterVec

	// MessagesIngested counts chat messages by type and outcome.
	// Labels: message_type, result (persisted|rejected|failed)
	MessagesIngested *prometheus.CounterVec

	// Notifications counts per-channel dispatch outcomes.
	// Labels: provider, result (sent|failed|skipped_self|skipped_online|skipped_cooldown)
	Notifications *prometheus.CounterVec

	// NotificationQueueDrops counts events that could not be queued.
	NotificationQueueDrops prometheus.Counter

	// NotificationDuration measures provider delivery latency in seconds.
	// Labels: provider
	NotificationDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		LiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Number of accepted websocket clients",
		}),
		ClientRemovals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_removals_total",
			Help:      "Clients removed from the registry by reason",
		}, []string{"reason"}),
		BroadcastDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Per-client broadcast writes by result",
		}, []string{"result"}),
		MessagesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Chat messages processed by the ingest pipeline",
		}, []string{"message_type", "result"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification channel outcomes by provider",
		}, []string{"provider", "result"}),
		NotificationQueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_queue_drops_total",
			Help:      "Notification events dropped because the queue was full or stopped",
		}),
		NotificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_delivery_duration_seconds",
			Help:      "Duration of notification provider calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ClientAccepted implements realtime.Observer.
func (m *Metrics) ClientAccepted() {
	m.LiveClients.Inc()
}

// ClientRemoved implements realtime.Observer.
func (m *Metrics) ClientRemoved(evicted bool) {
	m.LiveClients.Dec()
	reason := "disconnect"
	if evicted {
		reason = "evicted"
	}
	m.ClientRemovals.WithLabelValues(reason).Inc()
}

// Broadcasted implements realtime.Observer.
func (m *Metrics) Broadcasted(delivered, failed int) {
	if delivered > 0 {
		m.BroadcastDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	}
	if failed > 0 {
		m.BroadcastDeliveries.WithLabelValues("failed").Add(float64(failed))
	}
}

// MessageIngested records one ingest pipeline outcome.
func (m *Metrics) MessageIngested(messageType, result string) {
	m.MessagesIngested.WithLabelValues(messageType, result).Inc()
}

// NotificationOutcome records one channel outcome.
func (m *Metrics) NotificationOutcome(provider, result string) {
	m.Notifications.WithLabelValues(provider, result).Inc()
}

// NotificationObserveDuration records provider latency.
func (m *Metrics) NotificationObserveDuration(provider string, seconds float64) {
	m.NotificationDuration.WithLabelValues(provider).Observe(seconds)
}

// NotificationDropped records an event lost before dispatch.
func (m *Metrics) NotificationDropped() {
	m.NotificationQueueDrops.Inc()
}
