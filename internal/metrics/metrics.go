package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay Metrics
var (
	// RelayViewersCurrent tracks currently connected viewer sockets
	RelayViewersCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_viewers_current",
			Help: "Current number of connected viewer sockets",
		},
	)

	// RelaySourcesCurrent tracks currently connected source sockets
	RelaySourcesCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sources_current",
			Help: "Current number of connected source sockets",
		},
	)

	// FramesPublishedTotal tracks frames published on the bus by producer kind
	FramesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_frames_published_total",
			Help: "Total frames published on the frame bus by producer kind (source/slot)",
		},
		[]string{"producer"},
	)

	// FramesDroppedTotal tracks sequence gaps observed across all viewers
	FramesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Total dropped frames inferred from sequence gaps across all viewers",
		},
	)

	// SendsDroppedTotal tracks messages dropped because a viewer's send buffer was full
	SendsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_sends_dropped_total",
			Help: "Total outbound messages dropped due to a full per-connection send buffer",
		},
	)

	// PublishesDroppedTotal tracks bus publishes dropped because the hub command channel was full
	PublishesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_publishes_dropped_total",
			Help: "Total frame publishes dropped because the hub command channel was full",
		},
	)

	// MasterTickDuration tracks master tick duration in seconds
	MasterTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_master_tick_duration_seconds",
			Help:    "Master tick duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// MasterTicksTotal tracks master tick iterations
	MasterTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_master_ticks_total",
			Help: "Total master tick iterations",
		},
	)
)

// Slot Metrics
var (
	// SlotsActive tracks currently initialized slots
	SlotsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slots_active",
			Help: "Current number of initialized render slots",
		},
	)

	// SlotTicksTotal tracks engine ticks across all slots
	SlotTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slots_ticks_total",
			Help: "Total engine ticks across all slots",
		},
	)

	// SlotTicksDroppedTotal tracks slot ticks dropped because the manager was busy
	SlotTicksDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slots_ticks_dropped_total",
			Help: "Total slot ticks dropped because the manager command channel was full",
		},
	)
)

// Bridge Metrics
var (
	// BridgeSpawnsTotal tracks spawn requests by result
	BridgeSpawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_spawns_total",
			Help: "Total bridge spawn requests by result (ready/builtin/error/duplicate)",
		},
		[]string{"result"},
	)

	// BridgeProcessesCurrent tracks live supervised bridge processes
	BridgeProcessesCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_processes_current",
			Help: "Current number of live supervised bridge processes",
		},
	)

	// BridgeExitsTotal tracks bridge process exits by outcome
	BridgeExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_exits_total",
			Help: "Total bridge process exits by outcome (clean/error)",
		},
		[]string{"outcome"},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsTotal tracks connection attempts by role and result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by role and result",
		},
		[]string{"role", "result"},
	)

	// WebSocketMessageSendDuration tracks WebSocket message send duration
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// WebSocketPingFailures tracks WebSocket ping failures
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping failures (client not responding)",
		},
	)
)

// Redis Metrics
var (
	// RedisOpsTotal tracks redis operations by operation and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
