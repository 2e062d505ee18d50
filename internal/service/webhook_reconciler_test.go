package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"viraloop/internal/config"
	"viraloop/internal/model"
	"viraloop/internal/plans"
	stripeclient "viraloop/internal/stripe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type updateCall struct {
	id          string
	plan        string
	priceID     string
	status      string
	validUntil  time.Time
	invoiceID   *string
	amountTotal int64
	teamID      string
	limits      plans.Limits
}

type expireCall struct {
	id     string
	status string
	teamID string
}

type limitsCall struct {
	teamID string
	limits plans.Limits
}

// fakeSubscriptionRepo is an in-memory SubscriptionRepository recording every
// mutation. It honors the transactional contract: when limitsErr is set, the
// whole call fails and nothing is recorded, like a rolled-back transaction.
type fakeSubscriptionRepo struct {
	rows          []*model.Subscription
	eligible      []model.Subscription
	listErr       error
	updates       []updateCall
	expires       []expireCall
	limitsApplied []limitsCall
	limitsErr     error
}

func (f *fakeSubscriptionRepo) GetByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*model.Subscription, error) {
	for _, r := range f.rows {
		if r.StripeSubscriptionID == stripeSubID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) CreateTx(ctx context.Context, s *model.Subscription, limits *plans.Limits) error {
	if limits != nil && f.limitsErr != nil {
		return f.limitsErr
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("row-%d", len(f.rows)+1)
	}
	f.rows = append(f.rows, s)
	if limits != nil {
		f.limitsApplied = append(f.limitsApplied, limitsCall{teamID: s.TeamID, limits: *limits})
	}
	return nil
}

func (f *fakeSubscriptionRepo) UpdateFromEventTx(ctx context.Context, id string, plan, priceID, status string, validUntil time.Time, invoiceID *string, amountTotal int64, teamID string, limits plans.Limits) error {
	if f.limitsErr != nil {
		return f.limitsErr
	}
	f.updates = append(f.updates, updateCall{id: id, plan: plan, priceID: priceID, status: status, validUntil: validUntil, invoiceID: invoiceID, amountTotal: amountTotal, teamID: teamID, limits: limits})
	f.limitsApplied = append(f.limitsApplied, limitsCall{teamID: teamID, limits: limits})
	return nil
}

func (f *fakeSubscriptionRepo) ExpireTx(ctx context.Context, id string, status string, teamID string) error {
	if f.limitsErr != nil {
		return f.limitsErr
	}
	f.expires = append(f.expires, expireCall{id: id, status: status, teamID: teamID})
	return nil
}

func (f *fakeSubscriptionRepo) ListEligibleForRecurringCredits(ctx context.Context) ([]model.Subscription, error) {
	return f.eligible, f.listErr
}

// fakeTeamRepo records limit mutations for the one-time payment path.
type fakeTeamRepo struct {
	limitsCalls []limitsCall
}

func (f *fakeTeamRepo) GetByID(ctx context.Context, teamID string) (*model.Team, error) {
	return nil, nil
}

func (f *fakeTeamRepo) UpdateLimits(ctx context.Context, teamID string, limits plans.Limits) error {
	f.limitsCalls = append(f.limitsCalls, limitsCall{teamID: teamID, limits: limits})
	return nil
}

func (f *fakeTeamRepo) UpdateStripeCustomerID(ctx context.Context, teamID, customerID string) error {
	return nil
}

type fakeProvider struct {
	subscriptions  map[string]*stripeclient.SubscriptionInfo
	paymentIntents map[string]*stripeclient.PaymentIntentInfo
	cancelled      []string
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*stripeclient.SubscriptionInfo, error) {
	if info, ok := f.subscriptions[id]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no such subscription %s", id)
}

func (f *fakeProvider) GetPaymentIntent(ctx context.Context, id string) (*stripeclient.PaymentIntentInfo, error) {
	if pi, ok := f.paymentIntents[id]; ok {
		return pi, nil
	}
	return nil, fmt.Errorf("no such payment intent %s", id)
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func reconcilerFixture() (*WebhookReconciler, *fakeSubscriptionRepo, *fakeTeamRepo, *fakeProvider) {
	catalog := plans.NewCatalog(&config.Config{
		StripePriceStarter: "price_starter",
		StripePriceGrowth:  "price_growth",
		StripePriceScale:   "price_scale",
		StripePriceTrial:   "price_trial",
	})
	subs := &fakeSubscriptionRepo{}
	teams := &fakeTeamRepo{}
	provider := &fakeProvider{
		subscriptions:  map[string]*stripeclient.SubscriptionInfo{},
		paymentIntents: map[string]*stripeclient.PaymentIntentInfo{},
	}
	r := NewWebhookReconciler(subs, teams, catalog, provider, zerolog.Nop())
	return r, subs, teams, provider
}

func event(t *testing.T, typ stripe.EventType, obj any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return stripe.Event{Type: typ, Data: &stripe.EventData{Raw: raw}}
}

func checkoutEvent(t *testing.T, metadata map[string]string, subscription string) stripe.Event {
	return event(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":           "cs_1",
		"customer":     "cus_1",
		"subscription": subscription,
		"mode":         "subscription",
		"amount_total": 2900,
		"metadata":     metadata,
	})
}

func subscriptionEvent(t *testing.T, typ stripe.EventType, id, status, priceID string, periodEnd time.Time, metadata map[string]string) stripe.Event {
	return event(t, typ, map[string]any{
		"id":       id,
		"customer": "cus_1",
		"status":   status,
		"items": map[string]any{
			"data": []map[string]any{{
				"current_period_end": periodEnd.Unix(),
				"price":              map[string]any{"id": priceID, "unit_amount": 2900},
			}},
		},
		"metadata": metadata,
	})
}

func TestCheckoutCompletedCreatesSubscription(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	provider.subscriptions["sub_1"] = &stripeclient.SubscriptionInfo{
		ID:               "sub_1",
		Status:           "active",
		PriceID:          "price_growth",
		CustomerID:       "cus_1",
		LatestInvoiceID:  "in_1",
		AmountTotal:      2900,
		CurrentPeriodEnd: periodEnd,
	}
	ev := checkoutEvent(t, map[string]string{"teamId": "team-1", "userId": "user-1"}, "sub_1")

	require.NoError(t, r.Dispatch(context.Background(), ev))

	require.Len(t, subs.rows, 1)
	row := subs.rows[0]
	assert.Equal(t, "team-1", row.TeamID)
	assert.Equal(t, "growth", row.Plan)
	assert.Equal(t, "sub_1", row.StripeSubscriptionID)
	assert.Equal(t, "active", row.StripeSubscriptionStatus)
	assert.Equal(t, periodEnd, row.SubscriptionValidUntil)
	require.NotNil(t, row.StripeInvoiceID)
	assert.Equal(t, "in_1", *row.StripeInvoiceID)

	require.Len(t, subs.limitsApplied, 1)
	assert.Equal(t, "team-1", subs.limitsApplied[0].teamID)
	assert.Equal(t, 3, subs.limitsApplied[0].limits.Influencers)
}

func TestCheckoutCompletedRowAndLimitsAreOneScope(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	provider.subscriptions["sub_1"] = &stripeclient.SubscriptionInfo{
		ID: "sub_1", Status: "active", PriceID: "price_growth",
		CurrentPeriodEnd: time.Now().Add(time.Hour),
	}
	ev := checkoutEvent(t, map[string]string{"teamId": "team-1"}, "sub_1")
	ctx := context.Background()

	// First delivery fails mid-scope: the row insert must roll back with the
	// limits write, otherwise the existence guard would skip the redelivery
	// and the team's limits would never be applied.
	subs.limitsErr = errors.New("connection reset")
	require.Error(t, r.Dispatch(ctx, ev))
	assert.Empty(t, subs.rows, "partial failure must not leave a subscription row behind")

	subs.limitsErr = nil
	require.NoError(t, r.Dispatch(ctx, ev))
	require.Len(t, subs.rows, 1)
	require.NotEmpty(t, subs.limitsApplied, "redelivery must apply the limits")
	assert.Equal(t, 3, subs.limitsApplied[0].limits.Influencers)
}

func TestCheckoutCompletedDuplicateIsNoOp(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	provider.subscriptions["sub_1"] = &stripeclient.SubscriptionInfo{
		ID: "sub_1", Status: "active", PriceID: "price_growth",
		CurrentPeriodEnd: time.Now().Add(time.Hour),
	}
	ev := checkoutEvent(t, map[string]string{"teamId": "team-1"}, "sub_1")
	ctx := context.Background()

	require.NoError(t, r.Dispatch(ctx, ev))
	require.NoError(t, r.Dispatch(ctx, ev))

	assert.Len(t, subs.rows, 1, "redelivered checkout event must not create a second row")
	assert.Len(t, subs.limitsApplied, 1)
}

func TestCheckoutCompletedOneTimePayment(t *testing.T) {
	r, subs, teams, _ := reconcilerFixture()
	ev := checkoutEvent(t, map[string]string{
		"teamId":    "team-1",
		"isOneTime": "true",
		"priceId":   "price_trial",
	}, "")

	require.NoError(t, r.Dispatch(context.Background(), ev))

	assert.Empty(t, subs.rows, "one-time payments create no subscription row")
	require.Len(t, teams.limitsCalls, 1)
	assert.Equal(t, plans.Limits{Influencers: 1, ImagesPerMonth: 20, VideosPerMonth: 5, Platforms: []string{"tiktok"}}, teams.limitsCalls[0].limits)
}

func TestSubscriptionUpdatedBeforeCreateIsIgnored(t *testing.T) {
	r, subs, _, _ := reconcilerFixture()
	ev := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_unseen", "active", "price_growth", time.Now().Add(time.Hour), nil)

	require.NoError(t, r.Dispatch(context.Background(), ev))

	assert.Empty(t, subs.rows)
	assert.Empty(t, subs.updates)
	assert.Empty(t, subs.limitsApplied)
}

func TestSubscriptionUpdatedRecomputesLimitsWhole(t *testing.T) {
	r, subs, _, _ := reconcilerFixture()
	subs.rows = append(subs.rows, &model.Subscription{
		ID: "row-1", TeamID: "team-1", StripeSubscriptionID: "sub_1",
		Plan: "starter", StripePriceID: "price_starter",
	})
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	ev := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_1", "active", "price_scale", periodEnd, nil)

	require.NoError(t, r.Dispatch(context.Background(), ev))

	require.Len(t, subs.updates, 1)
	up := subs.updates[0]
	assert.Equal(t, "row-1", up.id)
	assert.Equal(t, "scale", up.plan)
	assert.Equal(t, "price_scale", up.priceID)
	assert.Equal(t, "active", up.status)
	assert.Equal(t, "team-1", up.teamID)

	// Limits come whole from the new price id, not adjusted from the old plan.
	assert.Equal(t, plans.Limits{Influencers: 10, ImagesPerMonth: 1000, VideosPerMonth: 250, Platforms: []string{"tiktok", "instagram", "youtube"}}, up.limits)
}

func TestSubscriptionUpdatedToCanceledRevokesEntitlement(t *testing.T) {
	r, subs, _, _ := reconcilerFixture()
	subs.rows = append(subs.rows, &model.Subscription{
		ID: "row-1", TeamID: "team-1", StripeSubscriptionID: "sub_1",
	})
	ev := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, "sub_1", "canceled", "price_growth", time.Now(), nil)

	require.NoError(t, r.Dispatch(context.Background(), ev))

	require.Len(t, subs.expires, 1)
	assert.Equal(t, expireCall{id: "row-1", status: "canceled", teamID: "team-1"}, subs.expires[0])
	assert.Empty(t, subs.updates)
}

func TestSubscriptionCreatedGuardsAgainstDuplicates(t *testing.T) {
	r, subs, _, _ := reconcilerFixture()
	ev := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, "sub_1", "active", "price_growth", time.Now().Add(time.Hour), map[string]string{"teamId": "team-1"})
	ctx := context.Background()

	require.NoError(t, r.Dispatch(ctx, ev))
	require.NoError(t, r.Dispatch(ctx, ev))

	assert.Len(t, subs.rows, 1)
	assert.Len(t, subs.limitsApplied, 1)
}

func TestInvoicePaidExtendsValidity(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	subs.rows = append(subs.rows, &model.Subscription{
		ID: "row-1", TeamID: "team-1", StripeSubscriptionID: "sub_1",
	})
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	provider.subscriptions["sub_1"] = &stripeclient.SubscriptionInfo{
		ID: "sub_1", Status: "active", PriceID: "price_growth", CurrentPeriodEnd: periodEnd,
	}
	ev := event(t, stripe.EventTypeInvoicePaid, map[string]any{
		"id":           "in_2",
		"subscription": "sub_1",
		"amount_paid":  2900,
	})

	require.NoError(t, r.Dispatch(context.Background(), ev))

	require.Len(t, subs.updates, 1)
	up := subs.updates[0]
	assert.Equal(t, periodEnd, up.validUntil)
	require.NotNil(t, up.invoiceID)
	assert.Equal(t, "in_2", *up.invoiceID)
	assert.Equal(t, int64(2900), up.amountTotal)
	assert.Len(t, subs.limitsApplied, 1)
}

func TestInvoicePaidFallsBackToLineSubscription(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	subs.rows = append(subs.rows, &model.Subscription{
		ID: "row-1", TeamID: "team-1", StripeSubscriptionID: "sub_1",
	})
	provider.subscriptions["sub_1"] = &stripeclient.SubscriptionInfo{
		ID: "sub_1", Status: "active", PriceID: "price_growth", CurrentPeriodEnd: time.Now().Add(time.Hour),
	}
	ev := event(t, stripe.EventTypeInvoicePaid, map[string]any{
		"id": "in_2",
		"lines": map[string]any{
			"data": []map[string]any{{"subscription": "sub_1"}},
		},
	})

	require.NoError(t, r.Dispatch(context.Background(), ev))
	assert.Len(t, subs.updates, 1)
}

func TestInvoicePaymentFailedRequiresActionLeavesSubscription(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	subs.rows = append(subs.rows, &model.Subscription{
		ID: "row-1", TeamID: "team-1", StripeSubscriptionID: "sub_1",
	})
	provider.paymentIntents["pi_1"] = &stripeclient.PaymentIntentInfo{ID: "pi_1", Status: "requires_action"}
	ev := event(t, stripe.EventTypeInvoicePaymentFailed, map[string]any{
		"id":             "in_3",
		"subscription":   "sub_1",
		"payment_intent": "pi_1",
	})

	require.NoError(t, r.Dispatch(context.Background(), ev))

	// 3-D Secure still pending: not a terminal failure.
	assert.Empty(t, provider.cancelled)
	assert.Empty(t, subs.expires)
}

func TestInvoicePaymentFailedTerminallyCancels(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	subs.rows = append(subs.rows, &model.Subscription{
		ID: "row-1", TeamID: "team-1", StripeSubscriptionID: "sub_1",
	})
	provider.paymentIntents["pi_1"] = &stripeclient.PaymentIntentInfo{ID: "pi_1", Status: "requires_payment_method"}
	ev := event(t, stripe.EventTypeInvoicePaymentFailed, map[string]any{
		"id":             "in_3",
		"subscription":   "sub_1",
		"payment_intent": "pi_1",
	})

	require.NoError(t, r.Dispatch(context.Background(), ev))

	assert.Equal(t, []string{"sub_1"}, provider.cancelled)
	require.Len(t, subs.expires, 1)
	assert.Equal(t, expireCall{id: "row-1", status: "canceled", teamID: "team-1"}, subs.expires[0])
}

func TestInvoicePaymentFailedUnknownSubscriptionIsIgnored(t *testing.T) {
	r, subs, _, provider := reconcilerFixture()
	ev := event(t, stripe.EventTypeInvoicePaymentFailed, map[string]any{
		"id":           "in_3",
		"subscription": "sub_unseen",
	})

	require.NoError(t, r.Dispatch(context.Background(), ev))
	assert.Empty(t, provider.cancelled)
	assert.Empty(t, subs.expires)
}

func TestDispatchIgnoresUnhandledEventTypes(t *testing.T) {
	r, subs, teams, _ := reconcilerFixture()
	ev := event(t, stripe.EventType("customer.created"), map[string]any{"id": "cus_1"})

	require.NoError(t, r.Dispatch(context.Background(), ev))
	assert.Empty(t, subs.rows)
	assert.Empty(t, teams.limitsCalls)
}
