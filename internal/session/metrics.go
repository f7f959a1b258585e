package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InitTotal counts finished session initializations by outcome.
	InitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_session_init_total",
			Help: "Total number of session initializations by outcome",
		},
		[]string{"outcome"},
	)

	// InitAttempts counts calls to the current-user endpoint made during
	// initialization.
	InitAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_session_init_attempts_total",
			Help: "Total number of current-user calls made by session initialization",
		},
	)

	// LogoutTotal counts logouts by reason.
	LogoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_session_logout_total",
			Help: "Total number of session logouts by reason",
		},
		[]string{"reason"},
	)

	// LogoutServerFailures counts server-side logout calls that failed.
	LogoutServerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_session_logout_server_failures_total",
			Help: "Total number of failed backend logout calls",
		},
	)
)
