package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"viraloop/internal/metrics"
	"viraloop/internal/model"
	"viraloop/internal/plans"
	"viraloop/internal/repository"
	stripeclient "viraloop/internal/stripe"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

// BillingProvider is the slice of the Stripe API the reconciler needs for
// authoritative lookups and terminal cancellations.
type BillingProvider interface {
	GetSubscription(ctx context.Context, id string) (*stripeclient.SubscriptionInfo, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripeclient.PaymentIntentInfo, error)
	CancelSubscription(ctx context.Context, id string) error
}

// Webhook payload objects, decoded from event.data.object. Decoding locally
// keeps the reconciler independent of SDK struct changes on webhook
// payloads; referenced objects (customer, subscription) arrive as plain ids.
type checkoutSessionObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Mode         string            `json:"mode"`
	AmountTotal  int64             `json:"amount_total"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	Status        string `json:"status"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	PaymentIntent string `json:"payment_intent"`
	Lines         struct {
		Data []struct {
			Subscription string `json:"subscription"`
		} `json:"data"`
	} `json:"lines"`
	Metadata map[string]string `json:"metadata"`
}

// subscriptionID returns the provider subscription id carried by an invoice,
// falling back to the line items for older payload shapes.
func (inv *invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return inv.Subscription
	}
	for _, line := range inv.Lines.Data {
		if line.Subscription != "" {
			return line.Subscription
		}
	}
	return ""
}

// WebhookReconciler consumes Stripe webhook events and reconciles
// subscription rows and team plan limits. It tolerates out-of-order and
// at-least-once delivery: create paths are guarded by an existence check,
// and limits are always recomputed whole from the price id, never adjusted
// relative to a previous value.
type WebhookReconciler struct {
	subs     repository.SubscriptionRepository
	teams    repository.TeamRepository
	catalog  *plans.Catalog
	provider BillingProvider
	logger   zerolog.Logger
}

// NewWebhookReconciler creates the reconciler with a scoped logger.
func NewWebhookReconciler(subs repository.SubscriptionRepository, teams repository.TeamRepository, catalog *plans.Catalog, provider BillingProvider, logger zerolog.Logger) *WebhookReconciler {
	return &WebhookReconciler{
		subs:     subs,
		teams:    teams,
		catalog:  catalog,
		provider: provider,
		logger:   logger.With().Str("service", "WebhookReconciler").Logger(),
	}
}

// Dispatch routes an event to its handler by type. Unhandled types are
// acknowledged and ignored.
func (r *WebhookReconciler) Dispatch(ctx context.Context, event stripe.Event) error {
	var err error
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		err = r.decodeAndHandle(ctx, event, r.handleCheckoutCompleted)
	case stripe.EventTypeCustomerSubscriptionCreated:
		err = r.decodeAndHandleSubscription(ctx, event, r.handleSubscriptionCreated)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		err = r.decodeAndHandleSubscription(ctx, event, r.handleSubscriptionUpdated)
	case stripe.EventTypeInvoicePaid:
		err = r.decodeAndHandleInvoice(ctx, event, r.handleInvoicePaid)
	case stripe.EventTypeInvoicePaymentFailed:
		err = r.decodeAndHandleInvoice(ctx, event, r.handleInvoicePaymentFailed)
	default:
		r.logger.Warn().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "skipped").Inc()
		return nil
	}

	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "error").Inc()
		return err
	}
	metrics.WebhookEvents.WithLabelValues(string(event.Type), "ok").Inc()
	return nil
}

func (r *WebhookReconciler) decodeAndHandle(ctx context.Context, event stripe.Event, h func(context.Context, checkoutSessionObject) error) error {
	var cs checkoutSessionObject
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return h(ctx, cs)
}

func (r *WebhookReconciler) decodeAndHandleSubscription(ctx context.Context, event stripe.Event, h func(context.Context, subscriptionObject) error) error {
	var ss subscriptionObject
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return h(ctx, ss)
}

func (r *WebhookReconciler) decodeAndHandleInvoice(ctx context.Context, event stripe.Event, h func(context.Context, invoiceObject) error) error {
	var inv invoiceObject
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return h(ctx, inv)
}

// handleCheckoutCompleted covers both one-time payments (limits only, no
// ledger interaction) and subscription checkouts (create row + limits).
func (r *WebhookReconciler) handleCheckoutCompleted(ctx context.Context, cs checkoutSessionObject) error {
	if cs.Metadata["isOneTime"] == "true" || cs.Subscription == "" {
		return r.applyOneTimePayment(ctx, cs)
	}

	// Event-level at-least-once guard: an existing row for this provider
	// subscription id means the event was already processed.
	existing, err := r.subs.GetByStripeSubscriptionID(ctx, cs.Subscription)
	if err != nil {
		return err
	}
	if existing != nil {
		r.logger.Info().Str("subscription_id", cs.Subscription).Msg("Subscription row already exists, skipping duplicate checkout event")
		return nil
	}

	// Fetch authoritative state instead of trusting the checkout payload.
	info, err := r.provider.GetSubscription(ctx, cs.Subscription)
	if err != nil {
		return err
	}

	teamID := cs.Metadata["teamId"]
	if teamID == "" {
		r.logger.Warn().Str("session_id", cs.ID).Str("subscription_id", cs.Subscription).Msg("Checkout session has no teamId metadata, cannot attach subscription")
		return nil
	}

	row := r.newSubscriptionRow(teamID, cs.Metadata["userId"], info)
	if cs.AmountTotal > 0 {
		row.AmountTotal = cs.AmountTotal
	}
	// Row and limits land in one transaction: a half-applied event would be
	// unrecoverable once the delivery is acknowledged and the existence guard
	// starts skipping replays.
	var limits *plans.Limits
	if model.EntitledStatus(info.Status) {
		l := r.limitsFor(teamID, info.PriceID)
		limits = &l
	}
	if err := r.subs.CreateTx(ctx, row, limits); err != nil {
		return err
	}
	r.logger.Info().Str("subscription_id", info.ID).Str("team_id", teamID).Str("status", info.Status).Msg("Created subscription from checkout event")
	return nil
}

// applyOneTimePayment recomputes the team's limits from the purchased price.
// One-time trial payments grant capability, not ledger credits.
func (r *WebhookReconciler) applyOneTimePayment(ctx context.Context, cs checkoutSessionObject) error {
	teamID := cs.Metadata["teamId"]
	priceID := cs.Metadata["priceId"]
	if teamID == "" || priceID == "" {
		r.logger.Warn().Str("session_id", cs.ID).Msg("One-time checkout session missing teamId or priceId metadata, skipping")
		return nil
	}
	r.logger.Info().Str("session_id", cs.ID).Str("team_id", teamID).Str("price_id", priceID).Msg("Applying one-time payment limits")
	return r.teams.UpdateLimits(ctx, teamID, r.limitsFor(teamID, priceID))
}

// handleSubscriptionCreated covers subscriptions created outside the
// checkout flow, e.g. via the customer portal.
func (r *WebhookReconciler) handleSubscriptionCreated(ctx context.Context, ss subscriptionObject) error {
	existing, err := r.subs.GetByStripeSubscriptionID(ctx, ss.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		r.logger.Info().Str("subscription_id", ss.ID).Msg("Subscription row already exists, skipping duplicate create event")
		return nil
	}

	teamID := ss.Metadata["teamId"]
	if teamID == "" {
		r.logger.Warn().Str("subscription_id", ss.ID).Msg("Subscription has no teamId metadata, cannot attach")
		return nil
	}
	if len(ss.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", ss.ID)
	}
	item := ss.Items.Data[0]

	row := &model.Subscription{
		UserID:                   ss.Metadata["userId"],
		TeamID:                   teamID,
		Plan:                     string(r.catalog.PlanFromPriceID(item.Price.ID)),
		StripeSubscriptionID:     ss.ID,
		StripeSubscriptionStatus: ss.Status,
		StripePriceID:            item.Price.ID,
		StripeCustomerID:         ss.Customer,
		AmountTotal:              item.Price.UnitAmount,
		SubscriptionValidUntil:   time.Unix(item.CurrentPeriodEnd, 0),
	}
	var limits *plans.Limits
	if model.EntitledStatus(ss.Status) {
		l := r.limitsFor(teamID, item.Price.ID)
		limits = &l
	}
	if err := r.subs.CreateTx(ctx, row, limits); err != nil {
		return err
	}
	r.logger.Info().Str("subscription_id", ss.ID).Str("team_id", teamID).Str("status", ss.Status).Msg("Created subscription from provider event")
	return nil
}

func (r *WebhookReconciler) handleSubscriptionUpdated(ctx context.Context, ss subscriptionObject) error {
	row, err := r.subs.GetByStripeSubscriptionID(ctx, ss.ID)
	if err != nil {
		return err
	}
	if row == nil {
		// The create event may not have arrived yet; acceptable under
		// eventual consistency.
		r.logger.Warn().Str("subscription_id", ss.ID).Msg("No subscription row for update event, ignoring")
		return nil
	}
	if len(ss.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", ss.ID)
	}
	item := ss.Items.Data[0]
	return r.applySubscriptionState(ctx, row, ss.Status, item.Price.ID, time.Unix(item.CurrentPeriodEnd, 0), nil, item.Price.UnitAmount)
}

func (r *WebhookReconciler) handleInvoicePaid(ctx context.Context, inv invoiceObject) error {
	subID := inv.subscriptionID()
	if subID == "" {
		r.logger.Info().Str("invoice_id", inv.ID).Msg("Invoice has no subscription, skipping")
		return nil
	}
	row, err := r.subs.GetByStripeSubscriptionID(ctx, subID)
	if err != nil {
		return err
	}
	if row == nil {
		r.logger.Warn().Str("subscription_id", subID).Str("invoice_id", inv.ID).Msg("No subscription row for paid invoice, ignoring")
		return nil
	}

	info, err := r.provider.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	invoiceID := inv.ID
	return r.applySubscriptionState(ctx, row, info.Status, info.PriceID, info.CurrentPeriodEnd, &invoiceID, inv.AmountPaid)
}

// handleInvoicePaymentFailed treats a definitive payment failure as terminal
// for entitlement: cancel at the provider, expire the row, zero the limits.
// A payment intent still awaiting customer action is left alone.
func (r *WebhookReconciler) handleInvoicePaymentFailed(ctx context.Context, inv invoiceObject) error {
	subID := inv.subscriptionID()
	if subID == "" {
		r.logger.Info().Str("invoice_id", inv.ID).Msg("Failed invoice has no subscription, skipping")
		return nil
	}
	row, err := r.subs.GetByStripeSubscriptionID(ctx, subID)
	if err != nil {
		return err
	}
	if row == nil {
		r.logger.Warn().Str("subscription_id", subID).Str("invoice_id", inv.ID).Msg("No subscription row for failed invoice, ignoring")
		return nil
	}

	if inv.PaymentIntent != "" {
		pi, err := r.provider.GetPaymentIntent(ctx, inv.PaymentIntent)
		if err != nil {
			return err
		}
		if pi.Status == string(stripe.PaymentIntentStatusRequiresAction) {
			// Give the customer a chance to complete 3-D Secure.
			r.logger.Info().Str("subscription_id", subID).Str("payment_intent", pi.ID).Msg("Payment requires customer action, leaving subscription untouched")
			return nil
		}
	}

	if err := r.provider.CancelSubscription(ctx, subID); err != nil {
		return err
	}
	if err := r.subs.ExpireTx(ctx, row.ID, "canceled", row.TeamID); err != nil {
		return err
	}
	r.logger.Info().Str("subscription_id", subID).Str("team_id", row.TeamID).Msg("Payment failed terminally, subscription cancelled and limits revoked")
	return nil
}

// applySubscriptionState updates the row in place and reconciles the team's
// limits with the new status: entitled statuses extend validity and
// recompute limits from the price id, everything else expires the row
// immediately and zeroes the limits.
func (r *WebhookReconciler) applySubscriptionState(ctx context.Context, row *model.Subscription, status, priceID string, periodEnd time.Time, invoiceID *string, amountTotal int64) error {
	if model.EntitledStatus(status) {
		plan := r.catalog.PlanFromPriceID(priceID)
		limits := r.limitsFor(row.TeamID, priceID)
		return r.subs.UpdateFromEventTx(ctx, row.ID, string(plan), priceID, status, periodEnd, invoiceID, amountTotal, row.TeamID, limits)
	}

	if err := r.subs.ExpireTx(ctx, row.ID, status, row.TeamID); err != nil {
		return err
	}
	r.logger.Info().Str("subscription_id", row.StripeSubscriptionID).Str("team_id", row.TeamID).Str("status", status).Msg("Subscription no longer entitled, limits revoked")
	return nil
}

// limitsFor recomputes a team's limits as the pure function of the price id.
// Unknown prices zero the limits rather than guessing.
func (r *WebhookReconciler) limitsFor(teamID, priceID string) plans.Limits {
	limits, ok := r.catalog.LimitsFromPriceID(priceID)
	if !ok {
		r.logger.Warn().Str("team_id", teamID).Str("price_id", priceID).Msg("Unknown price id, zeroing limits")
	}
	return limits
}

func (r *WebhookReconciler) newSubscriptionRow(teamID, userID string, info *stripeclient.SubscriptionInfo) *model.Subscription {
	row := &model.Subscription{
		UserID:                   userID,
		TeamID:                   teamID,
		Plan:                     string(r.catalog.PlanFromPriceID(info.PriceID)),
		StripeSubscriptionID:     info.ID,
		StripeSubscriptionStatus: info.Status,
		StripePriceID:            info.PriceID,
		StripeCustomerID:         info.CustomerID,
		AmountTotal:              info.AmountTotal,
		SubscriptionValidUntil:   info.CurrentPeriodEnd,
	}
	if info.LatestInvoiceID != "" {
		invoiceID := info.LatestInvoiceID
		row.StripeInvoiceID = &invoiceID
	}
	return row
}
