package alert

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the Prometheus instruments this system exposes, grounded
// on the counter/gauge/histogram style used for trading-bot observability
// in the example pack (broker call outcomes, cache health, rate-limit
// waits, sell signals, notification dispatch).
var (
	BrokerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_broker_requests_total",
			Help: "Broker REST requests by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	BrokerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hantu_broker_request_duration_seconds",
			Help:    "Broker REST request latency by endpoint.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RateLimitWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hantu_rate_limit_wait_seconds",
			Help:    "Time spent waiting for rate limiter admission.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hantu_cache_degraded",
			Help: "1 if the cache has fallen back to the in-process LRU, else 0.",
		},
	)

	SellSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_sell_signals_total",
			Help: "Sell signals raised by type.",
		},
		[]string{"signal"},
	)

	SelectionSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hantu_selection_size",
			Help: "Number of stocks chosen by the most recent selection run.",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_notifications_total",
			Help: "Alert notifications dispatched, by severity and outcome.",
		},
		[]string{"severity", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		BrokerRequestsTotal,
		BrokerRequestDuration,
		RateLimitWaitSeconds,
		CacheDegraded,
		SellSignalsTotal,
		SelectionSizeGauge,
		NotificationsTotal,
	)
}
