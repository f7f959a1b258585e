package visitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeVisitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_visitors_active",
		Help: "Number of visitors with a live session client",
	})

	visitorsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_visitors_evicted_total",
		Help: "Total number of visitor clients evicted for idleness",
	})

	storedRefreshTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_refresh_tokens_stored",
		Help: "Number of refresh tokens held by process-local storage",
	})
)
