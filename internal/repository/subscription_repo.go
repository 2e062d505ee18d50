package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"viraloop/internal/model"
	"viraloop/internal/plans"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository stores the latest known state of each Stripe
// subscription. Rows are updated in place by webhook events. Each mutating
// call is one atomic scope: the subscription write and the team limits write
// land together or not at all, so a half-applied event never survives a
// webhook acknowledgement.
type SubscriptionRepository interface {
	// GetByStripeSubscriptionID returns the most recent row for the given
	// provider subscription id, or nil when the system has not seen it yet.
	GetByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*model.Subscription, error)
	// CreateTx inserts the row and, when limits is non-nil, overwrites the
	// team's plan limits in the same transaction.
	CreateTx(ctx context.Context, s *model.Subscription, limits *plans.Limits) error
	// UpdateFromEventTx overwrites the mutable state carried by a webhook
	// event and recomputes the team's limits in one transaction.
	UpdateFromEventTx(ctx context.Context, id string, plan, priceID, status string, validUntil time.Time, invoiceID *string, amountTotal int64, teamID string, limits plans.Limits) error
	// ExpireTx sets subscription_valid_until to the current time and zeroes
	// the team's limits in one transaction, the sole path by which a team's
	// entitlement is revoked.
	ExpireTx(ctx context.Context, id string, status string, teamID string) error
	// ListEligibleForRecurringCredits returns subscriptions that are still
	// valid, active, and older than one calendar month.
	ListEligibleForRecurringCredits(ctx context.Context) ([]model.Subscription, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `
    id, user_id, team_id, plan, stripe_subscription, stripe_subscription_status,
    stripe_price_id, stripe_customer_id, stripe_invoice_id, amount_total,
    subscription_valid_until, version, created_at, updated_at
`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.TeamID, &s.Plan, &s.StripeSubscriptionID,
		&s.StripeSubscriptionStatus, &s.StripePriceID, &s.StripeCustomerID,
		&s.StripeInvoiceID, &s.AmountTotal, &s.SubscriptionValidUntil,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepo) GetByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*model.Subscription, error) {
	q := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE stripe_subscription = $1
        ORDER BY created_at DESC
        LIMIT 1
    `
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, stripeSubID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", stripeSubID, err)
	}
	return s, nil
}

func createSubscription(ctx context.Context, q querier, s *model.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Version == 0 {
		s.Version = model.CurrentPlanSchemaVersion
	}
	const query = `
        INSERT INTO subscriptions (
            id, user_id, team_id, plan, stripe_subscription,
            stripe_subscription_status, stripe_price_id, stripe_customer_id,
            stripe_invoice_id, amount_total, subscription_valid_until, version
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING created_at, updated_at
    `
	err := q.QueryRow(ctx, query,
		s.ID, s.UserID, s.TeamID, s.Plan, s.StripeSubscriptionID,
		s.StripeSubscriptionStatus, s.StripePriceID, s.StripeCustomerID,
		s.StripeInvoiceID, s.AmountTotal, s.SubscriptionValidUntil, s.Version,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscription %s for team %s: %w", s.StripeSubscriptionID, s.TeamID, err)
	}
	return nil
}

func updateSubscriptionFromEvent(ctx context.Context, q querier, id string, plan, priceID, status string, validUntil time.Time, invoiceID *string, amountTotal int64) error {
	const query = `
        UPDATE subscriptions
        SET plan = $2,
            stripe_price_id = $3,
            stripe_subscription_status = $4,
            subscription_valid_until = $5,
            stripe_invoice_id = COALESCE($6, stripe_invoice_id),
            amount_total = $7,
            updated_at = NOW()
        WHERE id = $1
    `
	_, err := q.Exec(ctx, query, id, plan, priceID, status, validUntil, invoiceID, amountTotal)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, err)
	}
	return nil
}

func expireSubscription(ctx context.Context, q querier, id string, status string) error {
	const query = `
        UPDATE subscriptions
        SET stripe_subscription_status = $2,
            subscription_valid_until = NOW(),
            updated_at = NOW()
        WHERE id = $1
    `
	_, err := q.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("expire subscription %s: %w", id, err)
	}
	return nil
}

// inTx runs fn inside one transaction, mirroring the credit repository's
// atomic scopes.
func (r *subscriptionRepo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting subscription transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing subscription transaction: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) CreateTx(ctx context.Context, s *model.Subscription, limits *plans.Limits) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := createSubscription(ctx, tx, s); err != nil {
			return err
		}
		if limits != nil {
			return updateTeamLimits(ctx, tx, s.TeamID, *limits)
		}
		return nil
	})
}

func (r *subscriptionRepo) UpdateFromEventTx(ctx context.Context, id string, plan, priceID, status string, validUntil time.Time, invoiceID *string, amountTotal int64, teamID string, limits plans.Limits) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateSubscriptionFromEvent(ctx, tx, id, plan, priceID, status, validUntil, invoiceID, amountTotal); err != nil {
			return err
		}
		return updateTeamLimits(ctx, tx, teamID, limits)
	})
}

func (r *subscriptionRepo) ExpireTx(ctx context.Context, id string, status string, teamID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := expireSubscription(ctx, tx, id, status); err != nil {
			return err
		}
		return updateTeamLimits(ctx, tx, teamID, plans.Limits{})
	})
}

func (r *subscriptionRepo) ListEligibleForRecurringCredits(ctx context.Context) ([]model.Subscription, error) {
	// created_at must be more than one calendar month in the past so a new
	// subscription's welcome credits are not doubled on day one.
	q := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE subscription_valid_until > NOW()
          AND created_at < NOW() - INTERVAL '1 month'
          AND stripe_subscription_status = 'active'
        ORDER BY created_at
    `
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions eligible for recurring credits: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan eligible subscription: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible subscriptions: %w", err)
	}
	return subs, nil
}
