package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	UpdatesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updates_consumed_total",
			Help: "Total number of updates consumed from the bus (count)",
		},
		[]string{"queue", "status"},
	)

	UpdatesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updates_published_total",
			Help: "Total number of updates published to the bus (count)",
		},
		[]string{"status"},
	)

	GatewayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_total",
			Help: "Total number of events delivered to realtime connections (count)",
		},
		[]string{"event"},
	)

	GatewayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Number of open realtime connections (count)",
		},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_subscriptions",
			Help: "Number of owners with an active bus subscription (count)",
		},
	)

	BusReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Total number of bus reconnect attempts (count)",
		},
	)

	BotMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_messages_total",
			Help: "Total number of messages handled by the bot worker (count)",
		},
		[]string{"bot", "status"},
	)

	BotHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_handler_duration_ms",
			Help:    "Bot handler execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"bot"},
	)

	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of messages processed by the outbound relay (count)",
		},
		[]string{"status"},
	)

	DedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_hits_total",
			Help: "Total number of duplicate deliveries suppressed (count)",
		},
		[]string{"worker"},
	)

	TypingCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "typing_cache_lookups_total",
			Help: "Total number of typing display-name cache lookups (count)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		UpdatesConsumedTotal,
		UpdatesPublishedTotal,
		BusReconnectsTotal,
	)
}

func RegisterGatewayMetrics() {
	prometheus.MustRegister(
		GatewayEventsTotal,
		GatewayConnections,
		ActiveSubscriptions,
		TypingCacheLookupsTotal,
		RateLimitRequestsTotal,
	)
}

func RegisterBotWorkerMetrics() {
	prometheus.MustRegister(
		BotMessagesTotal,
		BotHandlerDuration,
	)
}

func RegisterRelayMetrics() {
	prometheus.MustRegister(
		RelayMessagesTotal,
	)
}

func RegisterDedupMetrics() {
	prometheus.MustRegister(
		DedupHitsTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
	)
}

func ObserveBotHandlerDuration(bot string, d time.Duration) {
	BotHandlerDuration.WithLabelValues(bot).Observe(float64(d.Milliseconds()))
}
