package model

import "time"

// Subscription statuses that entitle a team to its plan limits.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
)

// CurrentPlanSchemaVersion is stamped on newly created subscription rows.
const CurrentPlanSchemaVersion = 2

// Subscription mirrors the latest known state of a Stripe subscription.
// One logical row per provider subscription id, updated in place by every
// webhook event for that id.
type Subscription struct {
	ID                       string    `db:"id" json:"id"`
	UserID                   string    `db:"user_id" json:"user_id"`
	TeamID                   string    `db:"team_id" json:"team_id"`
	Plan                     string    `db:"plan" json:"plan"`
	StripeSubscriptionID     string    `db:"stripe_subscription" json:"stripe_subscription"`
	StripeSubscriptionStatus string    `db:"stripe_subscription_status" json:"stripe_subscription_status"`
	StripePriceID            string    `db:"stripe_price_id" json:"stripe_price_id"`
	StripeCustomerID         string    `db:"stripe_customer_id" json:"stripe_customer_id"`
	StripeInvoiceID          *string   `db:"stripe_invoice_id" json:"stripe_invoice_id,omitempty"`
	AmountTotal              int64     `db:"amount_total" json:"amount_total"`
	SubscriptionValidUntil   time.Time `db:"subscription_valid_until" json:"subscription_valid_until"`
	Version                  int       `db:"version" json:"version"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// EntitledStatus reports whether a provider subscription status entitles a
// team to its plan limits. This is the single entitlement predicate used
// system-wide; validity in time is enforced separately through
// subscription_valid_until.
func EntitledStatus(status string) bool {
	return status == SubscriptionStatusActive || status == SubscriptionStatusTrialing
}
