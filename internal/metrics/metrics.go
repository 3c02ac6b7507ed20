package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClientsConnected tracks the number of currently connected clients
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_clients_connected",
		Help: "Number of currently connected MQTT clients",
	})

	// ConnectionsTotal tracks total accepted TCP connections
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_connections_total",
		Help: "Total number of accepted TCP connections",
	})

	// PacketsReceived counts inbound control packets by type
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_packets_received_total",
			Help: "Total number of MQTT control packets received by type",
		},
		[]string{"type"},
	)

	// PacketsSent counts outbound control packets by type
	PacketsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_packets_sent_total",
			Help: "Total number of MQTT control packets sent by type",
		},
		[]string{"type"},
	)

	// BytesReceived tracks bytes received
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_bytes_received_total",
		Help: "Total bytes received from MQTT clients",
	})

	// BytesSent tracks bytes sent
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_bytes_sent_total",
		Help: "Total bytes sent to MQTT clients",
	})

	// SubscriptionsActive tracks active (filter, subscriber) pairs
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_subscriptions_active",
		Help: "Number of active subscriptions",
	})

	// QueueDepth tracks occupancy of the shared outbound queue
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_queue_depth",
		Help: "Messages currently held in the shared outbound queue",
	})

	// PublishLocksHeld tracks granted publish-lock reservations
	PublishLocksHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_publish_locks_held",
		Help: "Connections currently holding a publish-lock reservation",
	})

	// WillsFired counts wills published on abnormal disconnect
	WillsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_wills_fired_total",
		Help: "Total will messages published on abnormal disconnect",
	})

	// WillsDropped counts wills that could not be enqueued during cleanup
	WillsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_wills_dropped_total",
		Help: "Total will messages dropped because no queue slot became free",
	})
)
