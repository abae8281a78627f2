// Package metrics collects Prometheus metrics for the matching core,
// modeled on the venue's legacy monitoring.MetricsCollector: a struct of
// label-scoped Vec collectors built once at startup and updated from the
// matching engine, balance store, and websocket transport as they run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/matching"
)

// Collector holds every metric the matching core exports.
type Collector struct {
	logger *zap.Logger

	startTime time.Time

	// Order metrics
	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	submitLatency   *prometheus.HistogramVec

	// Matching metrics
	tradesExecuted  *prometheus.CounterVec
	tradeNotional   *prometheus.CounterVec
	matchLatency    *prometheus.HistogramVec

	// Book metrics
	bookDepth  *prometheus.GaugeVec
	queueDepth *prometheus.GaugeVec
	engineHalted *prometheus.GaugeVec

	// Balance store metrics
	balanceOpLatency *prometheus.HistogramVec
	lockFailures     *prometheus.CounterVec

	// WebSocket metrics
	wsConnections      prometheus.Gauge
	wsMessagesSent     *prometheus.CounterVec
	wsSubscribers      *prometheus.GaugeVec
	wsSlowConsumers    *prometheus.CounterVec
}

// New builds and registers every collector against the default registry.
func New(logger *zap.Logger) *Collector {
	c := &Collector{logger: logger, startTime: time.Now()}

	c.ordersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_orders_submitted_total",
		Help: "Total number of orders accepted into a symbol's book or matching loop.",
	}, []string{"symbol", "side", "type"})

	c.ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_orders_rejected_total",
		Help: "Total number of orders rejected before entering the book.",
	}, []string{"symbol", "side", "type", "reason"})

	c.ordersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_orders_cancelled_total",
		Help: "Total number of orders cancelled.",
	}, []string{"symbol", "side"})

	c.submitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchingcore_order_submit_latency_seconds",
		Help:    "Time spent inside Engine.Submit, from enqueue to reply.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs .. ~205ms
	}, []string{"symbol"})

	c.tradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_trades_executed_total",
		Help: "Total number of fills executed.",
	}, []string{"symbol"})

	c.tradeNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_trade_notional_total",
		Help: "Cumulative quote-asset notional traded.",
	}, []string{"symbol"})

	c.matchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchingcore_match_loop_latency_seconds",
		Help:    "Time spent walking the opposite book for a single incoming order.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	}, []string{"symbol"})

	c.bookDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchingcore_book_depth",
		Help: "Number of resting orders on one side of a symbol's book.",
	}, []string{"symbol", "side"})

	c.queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchingcore_command_queue_depth",
		Help: "Number of commands currently queued for a symbol engine.",
	}, []string{"symbol"})

	c.engineHalted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchingcore_symbol_engine_halted",
		Help: "1 if a symbol engine is halted after an invariant violation, else 0.",
	}, []string{"symbol"})

	c.balanceOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchingcore_balance_op_latency_seconds",
		Help:    "Latency of balance store operations.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
	}, []string{"operation"})

	c.lockFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_balance_lock_failures_total",
		Help: "Total number of failed Lock calls, by reason.",
	}, []string{"reason"})

	c.wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchingcore_ws_connections",
		Help: "Number of currently connected websocket clients.",
	})

	c.wsMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_ws_messages_sent_total",
		Help: "Total number of event messages sent to websocket clients.",
	}, []string{"channel"})

	c.wsSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchingcore_ws_subscribers",
		Help: "Number of subscribers on a (channel, symbol) topic.",
	}, []string{"channel", "symbol"})

	c.wsSlowConsumers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingcore_ws_slow_consumers_total",
		Help: "Total number of subscribers disconnected for falling behind.",
	}, []string{"channel"})

	return c
}

// RecordSubmit records an accepted order and the time Submit took.
func (c *Collector) RecordSubmit(symbol, side, orderType string, latency time.Duration) {
	c.ordersSubmitted.WithLabelValues(symbol, side, orderType).Inc()
	c.submitLatency.WithLabelValues(symbol).Observe(latency.Seconds())
}

// RecordReject records a rejected order.
func (c *Collector) RecordReject(symbol, side, orderType, reason string) {
	c.ordersRejected.WithLabelValues(symbol, side, orderType, reason).Inc()
}

// RecordCancel records a cancellation.
func (c *Collector) RecordCancel(symbol, side string) {
	c.ordersCancelled.WithLabelValues(symbol, side).Inc()
}

// RecordTrade records one executed fill.
func (c *Collector) RecordTrade(symbol string, notional float64, matchLoopLatency time.Duration) {
	c.tradesExecuted.WithLabelValues(symbol).Inc()
	c.tradeNotional.WithLabelValues(symbol).Add(notional)
	c.matchLatency.WithLabelValues(symbol).Observe(matchLoopLatency.Seconds())
}

// RecordBalanceOp records the latency of a balance store call.
func (c *Collector) RecordBalanceOp(operation string, latency time.Duration) {
	c.balanceOpLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordLockFailure records a failed Lock call.
func (c *Collector) RecordLockFailure(reason string) {
	c.lockFailures.WithLabelValues(reason).Inc()
}

// SetWSConnections sets the current websocket connection count.
func (c *Collector) SetWSConnections(n int) {
	c.wsConnections.Set(float64(n))
}

// RecordWSMessageSent records one event delivered to a subscriber.
func (c *Collector) RecordWSMessageSent(channel string) {
	c.wsMessagesSent.WithLabelValues(channel).Inc()
}

// SetWSSubscribers sets the subscriber count for a (channel, symbol) topic.
func (c *Collector) SetWSSubscribers(channel, symbol string, n int) {
	c.wsSubscribers.WithLabelValues(channel, symbol).Set(float64(n))
}

// RecordWSSlowConsumer records a subscriber disconnected for falling behind.
func (c *Collector) RecordWSSlowConsumer(channel string) {
	c.wsSlowConsumers.WithLabelValues(channel).Inc()
}

// ObserveEngineStats snapshots every symbol engine's Stats onto the book
// depth, queue depth, and halted gauges. Intended to be called periodically
// from the process's stats loop.
func (c *Collector) ObserveEngineStats(stats []matching.Stats) {
	for _, s := range stats {
		c.bookDepth.WithLabelValues(s.Symbol, "bid").Set(float64(s.BidDepth))
		c.bookDepth.WithLabelValues(s.Symbol, "ask").Set(float64(s.AskDepth))
		c.queueDepth.WithLabelValues(s.Symbol).Set(float64(s.QueueDepth))
		halted := 0.0
		if s.Halted {
			halted = 1.0
		}
		c.engineHalted.WithLabelValues(s.Symbol).Set(halted)
	}
}

// Uptime returns how long this collector has been running.
func (c *Collector) Uptime() time.Duration { return time.Since(c.startTime) }
