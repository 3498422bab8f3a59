package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Subsystem: "payments",
		Name:      "started_total",
		Help:      "Payments started, by provider.",
	}, []string{"provider"})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Subsystem: "payments",
		Name:      "status_transitions_total",
		Help:      "Applied status transitions, by provider, channel and target status.",
	}, []string{"provider", "channel", "to"})

	webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Subsystem: "webhooks",
		Name:      "outcomes_total",
		Help:      "Webhook dispatch outcomes, by provider and outcome.",
	}, []string{"provider", "outcome"})

	authenticityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payhub",
		Subsystem: "payments",
		Name:      "authenticity_failures_total",
		Help:      "Rejected callbacks and returns that failed signature verification.",
	}, []string{"provider", "channel"})
)
