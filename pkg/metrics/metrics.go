// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the Z-Wave bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsTotal counts notifications handled by the dispatcher, by type
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zwave_notifications_total",
		Help: "Total number of runtime notifications handled, by notification type",
	}, []string{"type"})

	// DispatchDuration tracks how long a single notification takes to handle
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zwave_dispatch_duration_seconds",
		Help:    "Duration of notification dispatch in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// StoreWritesTotal tracks store commands issued, by operation
	StoreWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zwave_store_writes_total",
		Help: "Total number of store commands issued, by operation",
	}, []string{"op"})

	// StoreWriteErrors tracks failed store commands, by operation
	StoreWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zwave_store_write_errors_total",
		Help: "Total number of failed store commands, by operation",
	}, []string{"op"})

	// PublicationsTotal tracks channel publications, by channel
	PublicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zwave_publications_total",
		Help: "Total number of channel publications, by channel",
	}, []string{"channel"})

	// PollRegistrySize is the number of values registered for active polling
	PollRegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zwave_poll_registry_size",
		Help: "Number of values registered for active polling",
	})

	// PollsEnabled counts values for which polling was enabled at startup
	PollsEnabled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zwave_polls_enabled_total",
		Help: "Total number of values for which polling was enabled",
	})

	// CommandsTotal tracks inbound command messages, by channel
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zwave_commands_total",
		Help: "Total number of command messages received, by channel",
	}, []string{"channel"})

	// CommandErrors tracks command messages whose control call failed
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zwave_command_errors_total",
		Help: "Total number of failed control calls, by channel",
	}, []string{"channel"})

	// BarrierState is 0 while waiting, 1 when ready and -1 when failed
	BarrierState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zwave_init_barrier_state",
		Help: "Initialization state: 0 waiting, 1 ready, -1 failed",
	})

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zwave_store_circuit_breaker_state",
		Help: "Store circuit breaker state: 0 closed, 1 half-open, 2 open",
	})

	// DriverStatistics exports the controller link counters, by counter name
	DriverStatistics = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zwave_driver_statistics",
		Help: "Controller link counters reported by the runtime",
	}, []string{"counter"})

	// HistoryWritesTotal tracks value history points written to InfluxDB
	HistoryWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zwave_history_writes_total",
		Help: "Total number of value history points written to InfluxDB",
	})

	// HistoryWriteErrors tracks failed InfluxDB writes
	HistoryWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zwave_history_write_errors_total",
		Help: "Total number of failed value history writes",
	})

	// MirrorPublishErrors tracks failed MQTT mirror publications
	MirrorPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zwave_mqtt_mirror_errors_total",
		Help: "Total number of failed MQTT mirror publications",
	})
)
