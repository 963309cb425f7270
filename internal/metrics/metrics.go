// Package metrics exposes the supervisor's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks live control sessions (passive subscribers are
	// not counted, matching the admission cap).
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_active_sessions",
		Help: "Number of live control sessions.",
	})

	// Subscribers tracks live passive-metrics subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_metric_subscribers",
		Help: "Number of live passive-metrics subscribers.",
	})

	// AdmissionRejects counts refused upgrade attempts by reason.
	AdmissionRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_admission_rejects_total",
		Help: "Upgrade attempts refused, by reason.",
	}, []string{"reason"})

	// Frames counts classified stdout frames by class.
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_frames_total",
		Help: "Engine stdout frames processed, by classification.",
	}, []string{"class"})

	// BroadcastDeliveries counts telemetry frames delivered to subscribers.
	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simgate_broadcast_deliveries_total",
		Help: "Telemetry frames delivered to passive subscribers.",
	})

	// ChildrenSpawned counts engine processes started for control sessions.
	ChildrenSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simgate_children_spawned_total",
		Help: "Engine child processes spawned.",
	})

	// ChildrenReaped counts engine processes whose exit has been observed.
	ChildrenReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simgate_children_reaped_total",
		Help: "Engine child processes reaped.",
	})
)
