// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for RecordDeliveryDropped.
const (
	DropReasonSendFailed   = "send_failed"
	DropReasonNoConnection = "no_connection"
	DropReasonMarshal      = "marshal_failed"
)

// Package-level collectors so components can record without holding a Server.
var (
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threadline_connections_active",
		Help: "Number of live registered socket connections",
	})

	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_connections_total",
			Help: "Total registry connection events by kind",
		},
		[]string{"event"},
	)

	eventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_events_delivered_total",
			Help: "Total events handed to sockets by event type",
		},
		[]string{"type"},
	)

	deliveriesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_deliveries_dropped_total",
			Help: "Total events that could not be handed to a socket",
		},
		[]string{"type", "reason"},
	)

	broadcastEmptyRoom = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_broadcast_empty_room_total",
			Help: "Total room broadcasts attempted with an empty room id",
		},
		[]string{"type"},
	)

	threadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_thread_rejections_total",
			Help: "Total message writes rejected by thread validation by code",
		},
		[]string{"code"},
	)

	threadCycleBreaks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_thread_cycle_breaks_total",
			Help: "Total parent-chain walks stopped by a cycle in stored data",
		},
		[]string{"operation"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_notifications_total",
			Help: "Total per-recipient notifications by outcome",
		},
		[]string{"status"},
	)
)

// RegisterMetrics registers the threadline collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		connectionsActive,
		connectionsTotal,
		eventsDelivered,
		deliveriesDropped,
		broadcastEmptyRoom,
		threadRejections,
		threadCycleBreaks,
		notificationsTotal,
	)
}

// RecordConnection counts a registry event ("register", "replace", "unregister")
// and sets the active gauge.
func RecordConnection(event string, active int) {
	connectionsTotal.WithLabelValues(event).Inc()
	connectionsActive.Set(float64(active))
}

// RecordDelivered counts n frames of eventType handed to sockets.
func RecordDelivered(eventType string, n int) {
	if n > 0 {
		eventsDelivered.WithLabelValues(eventType).Add(float64(n))
	}
}

// RecordDeliveryDropped counts one undelivered frame.
func RecordDeliveryDropped(eventType, reason string) {
	deliveriesDropped.WithLabelValues(eventType, reason).Inc()
}

// RecordEmptyRoomBroadcast counts a room broadcast with no room id.
func RecordEmptyRoomBroadcast(eventType string) {
	broadcastEmptyRoom.WithLabelValues(eventType).Inc()
}

// RecordThreadRejection counts a rejected write by error code.
func RecordThreadRejection(code string) {
	threadRejections.WithLabelValues(code).Inc()
}

// RecordThreadCycleBreak counts a cycle found while walking parents.
func RecordThreadCycleBreak(operation string) {
	threadCycleBreaks.WithLabelValues(operation).Inc()
}

// RecordNotification counts a notification outcome ("sent", "offline", "failed").
func RecordNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}
