package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal counts access token refreshes by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_token_refresh_total",
			Help: "Total number of access token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshWaiters counts 401 responses that joined an in-flight refresh
	// or were replayed with a token refreshed after they were sent.
	RefreshWaiters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_token_refresh_waiters_total",
			Help: "Total number of requests served by a refresh they did not start",
		},
		[]string{"kind"},
	)
)
