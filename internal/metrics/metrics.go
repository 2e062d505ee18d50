package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts processed Stripe webhook deliveries by event type
	// and outcome (ok, skipped, error).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viraloop_webhook_events_total",
		Help: "Stripe webhook deliveries by event type and outcome",
	}, []string{"event_type", "outcome"})

	// CreditsGranted counts credits added to team balances by ledger type.
	CreditsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viraloop_credits_granted_total",
		Help: "Credits granted to teams by ledger entry type",
	}, []string{"type"})

	// CreditsSpent counts credits deducted from team balances.
	CreditsSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viraloop_credits_spent_total",
		Help: "Credits spent by teams",
	})

	// RecurringJobSubscriptions counts per-subscription outcomes of the
	// recurring credits job.
	RecurringJobSubscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viraloop_recurring_job_subscriptions_total",
		Help: "Recurring credits job per-subscription outcomes",
	}, []string{"outcome"})
)
