package service

import (
	"context"
	"fmt"
	"time"

	"viraloop/internal/metrics"
	"viraloop/internal/model"
	"viraloop/internal/plans"
	"viraloop/internal/repository"

	"github.com/rs/zerolog"
)

// RunSummary reports one recurring credits run. Skipped covers already
// granted months, unknown plans, zero-credit plans and missing teams; Failed
// covers transient errors that will be retried by the next scheduled run.
type RunSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

// RecurringCreditsJob grants each active subscription its monthly credits
// exactly once per calendar month. Idempotency is enforced by the ledger key
// cron_recurring_{subscriptionID}_{YYYY-MM}, so concurrent or re-triggered
// runs converge on a single grant.
type RecurringCreditsJob struct {
	subs    repository.SubscriptionRepository
	credits CreditService
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRecurringCreditsJob creates the job with a scoped logger.
func NewRecurringCreditsJob(subs repository.SubscriptionRepository, credits CreditService, logger zerolog.Logger) *RecurringCreditsJob {
	return &RecurringCreditsJob{
		subs:    subs,
		credits: credits,
		logger:  logger.With().Str("service", "RecurringCreditsJob").Logger(),
		now:     time.Now,
	}
}

// RecurringGrantKey builds the exactly-once guard for one subscription and
// one wall-clock month.
func RecurringGrantKey(subscriptionID string, at time.Time) string {
	return fmt.Sprintf("cron_recurring_%s_%s", subscriptionID, at.UTC().Format("2006-01"))
}

// Run processes every eligible subscription, each in its own atomic scope so
// one subscription's failure cannot roll back another's grant. It always
// returns a summary, even when the eligibility query itself fails.
func (j *RecurringCreditsJob) Run(ctx context.Context) RunSummary {
	var summary RunSummary
	start := j.now()
	j.logger.Info().Msg("Recurring credits run starting")

	subs, err := j.subs.ListEligibleForRecurringCredits(ctx)
	if err != nil {
		// No retry policy: the next scheduled run picks up anything still
		// eligible.
		j.logger.Error().Err(err).Msg("Recurring credits run aborted: eligibility query failed")
		return summary
	}

	for _, sub := range subs {
		outcome, err := j.processSubscription(ctx, sub)
		switch {
		case err != nil:
			summary.Failed++
			metrics.RecurringJobSubscriptions.WithLabelValues("failed").Inc()
			j.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to process subscription, continuing")
		case outcome == "":
			summary.Processed++
			metrics.RecurringJobSubscriptions.WithLabelValues("processed").Inc()
		default:
			summary.Skipped++
			metrics.RecurringJobSubscriptions.WithLabelValues("skipped").Inc()
			j.logger.Info().Str("subscription_id", sub.ID).Str("reason", outcome).Msg("Skipped subscription")
		}
	}

	j.logger.Info().
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", j.now().Sub(start)).
		Msg("Recurring credits run finished")
	return summary
}

// processSubscription grants one subscription's monthly credits. A non-empty
// outcome with a nil error means the subscription was skipped for that
// reason; an empty outcome means the grant was applied.
func (j *RecurringCreditsJob) processSubscription(ctx context.Context, sub model.Subscription) (string, error) {
	if sub.TeamID == "" {
		return "no associated team", nil
	}

	plan := plans.Normalize(sub.Plan)
	amount, ok := plans.MonthlyCredits(plan)
	if !ok {
		return fmt.Sprintf("plan %q has no recurring credit amount", sub.Plan), nil
	}
	if amount == 0 {
		return "plan grants zero credits", nil
	}

	key := RecurringGrantKey(sub.ID, j.now())
	res, err := j.credits.GrantIdempotent(ctx, sub.TeamID, amount, model.LedgerEntryRecurring, key, model.Attribution{
		UserID: sub.UserID,
	})
	if err != nil {
		return "", err
	}
	if !res.Applied {
		// Expected for concurrent or re-triggered runs, not an anomaly.
		return "already processed this month", nil
	}

	j.logger.Info().
		Str("subscription_id", sub.ID).
		Str("team_id", sub.TeamID).
		Str("plan", string(plan)).
		Int("credits", res.CreditsAdded).
		Msg("Granted recurring credits")
	return "", nil
}
