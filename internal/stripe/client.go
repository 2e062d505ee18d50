package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	paymentintentpkg "github.com/stripe/stripe-go/v82/paymentintent"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SubscriptionInfo is the authoritative subscription state fetched from
// Stripe, reduced to the fields the reconciler needs.
type SubscriptionInfo struct {
	ID               string
	Status           string
	PriceID          string
	CustomerID       string
	LatestInvoiceID  string
	AmountTotal      int64
	CurrentPeriodEnd time.Time
}

// PaymentIntentInfo is the slice of a payment intent the reconciler inspects
// on failed invoices.
type PaymentIntentInfo struct {
	ID     string
	Status string
}

// Client wraps the Stripe API operations this system performs. It is
// constructed once and injected; nothing else reaches for the stripe-go
// package globals.
type Client struct {
	webhookSecret string
	logger        zerolog.Logger
}

// NewClient sets the stripe-go API key and returns the client.
func NewClient(secretKey, webhookSecret string, logger zerolog.Logger) *Client {
	stripe.Key = secretKey
	return &Client{
		webhookSecret: webhookSecret,
		logger:        logger.With().Str("service", "StripeClient").Logger(),
	}
}

// VerifyEvent checks the webhook signature and returns the parsed event.
func (c *Client) VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
}

// GetSubscription fetches a subscription and flattens the fields used for
// reconciliation. Period timing and price live on the first subscription
// item.
func (c *Client) GetSubscription(ctx context.Context, id string) (*SubscriptionInfo, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscriptionpkg.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", id, err)
	}
	if len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("stripe subscription %s has no items", id)
	}
	item := sub.Items.Data[0]

	info := &SubscriptionInfo{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: time.Unix(item.CurrentPeriodEnd, 0),
	}
	if item.Price != nil {
		info.PriceID = item.Price.ID
		info.AmountTotal = item.Price.UnitAmount
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	if sub.LatestInvoice != nil {
		info.LatestInvoiceID = sub.LatestInvoice.ID
	}
	return info, nil
}

// GetPaymentIntent fetches the status of a payment intent.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentInfo, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintentpkg.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("fetch payment intent %s: %w", id, err)
	}
	return &PaymentIntentInfo{ID: pi.ID, Status: string(pi.Status)}, nil
}

// CancelSubscription cancels the subscription at Stripe immediately.
func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscriptionpkg.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel stripe subscription %s: %w", id, err)
	}
	c.logger.Info().Str("subscription_id", id).Msg("Cancelled Stripe subscription")
	return nil
}

// CreateCustomer creates a Stripe customer carrying the team id in metadata.
func (c *Client) CreateCustomer(ctx context.Context, teamID, name string) (string, error) {
	params := &stripe.CustomerParams{
		Name:     stripe.String(name),
		Metadata: map[string]string{"teamId": teamID},
	}
	params.Context = ctx
	cust, err := customerpkg.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer for team %s: %w", teamID, err)
	}
	return cust.ID, nil
}

// CheckoutParams describes a checkout session to create.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	OneTime    bool // payment mode instead of subscription mode
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// NewCheckoutSession creates a Stripe Checkout session and returns its URL.
func (c *Client) NewCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	mode := stripe.CheckoutSessionModeSubscription
	if p.OneTime {
		mode = stripe.CheckoutSessionModePayment
	}
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(p.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)}},
		Mode:               stripe.String(string(mode)),
		SuccessURL:         stripe.String(p.SuccessURL),
		CancelURL:          stripe.String(p.CancelURL),
		Metadata:           p.Metadata,
	}
	params.Context = ctx
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// NewPortalSession creates a Stripe Customer Portal session and returns its
// URL.
func (c *Client) NewPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := billingsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
