package service

import (
	"context"
	"fmt"

	"viraloop/internal/config"
	"viraloop/internal/plans"
	"viraloop/internal/repository"
	stripeclient "viraloop/internal/stripe"

	"github.com/rs/zerolog"
)

// BillingService creates Stripe checkout and customer portal sessions. The
// resulting webhook events are reconciled by WebhookReconciler.
type BillingService struct {
	cfg     *config.Config
	catalog *plans.Catalog
	teams   repository.TeamRepository
	stripe  *stripeclient.Client
	logger  zerolog.Logger
}

// NewBillingService creates a new BillingService with a scoped logger.
func NewBillingService(cfg *config.Config, catalog *plans.Catalog, teams repository.TeamRepository, stripe *stripeclient.Client, logger zerolog.Logger) *BillingService {
	return &BillingService{
		cfg:     cfg,
		catalog: catalog,
		teams:   teams,
		stripe:  stripe,
		logger:  logger.With().Str("service", "BillingService").Logger(),
	}
}

// getOrCreateCustomer ensures the team has a Stripe customer and returns its
// id, persisting newly created ids on the team.
func (s *BillingService) getOrCreateCustomer(ctx context.Context, teamID string) (string, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("fetch team: %w", err)
	}
	if team == nil {
		return "", repository.ErrTeamNotFound
	}
	if team.StripeCustomerID != nil && *team.StripeCustomerID != "" {
		return *team.StripeCustomerID, nil
	}

	s.logger.Warn().Str("team_id", teamID).Msg("No Stripe customer ID found, creating customer as fallback")
	customerID, err := s.stripe.CreateCustomer(ctx, teamID, team.Name)
	if err != nil {
		return "", err
	}
	if err := s.teams.UpdateStripeCustomerID(ctx, teamID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

// CreateCheckoutSession starts a checkout for the given plan. The trial plan
// is sold as a one-time payment and flagged isOneTime for the reconciler;
// every other plan is a recurring subscription.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, userID, teamID, planName string) (string, error) {
	plan := plans.Normalize(planName)
	priceID := s.catalog.PriceIDFor(plan)
	if plan == plans.PlanUnknown || priceID == "" {
		return "", fmt.Errorf("invalid plan: %s", planName)
	}

	customerID, err := s.getOrCreateCustomer(ctx, teamID)
	if err != nil {
		s.logger.Error().Err(err).Str("team_id", teamID).Msg("Failed to get or create Stripe customer for checkout session")
		return "", err
	}

	oneTime := plan == plans.PlanTrial
	metadata := map[string]string{
		"teamId": teamID,
		"userId": userID,
	}
	if oneTime {
		metadata["isOneTime"] = "true"
		metadata["priceId"] = priceID
	}

	url, err := s.stripe.NewCheckoutSession(ctx, stripeclient.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		OneTime:    oneTime,
		SuccessURL: s.cfg.StripePortalReturnURL + "?status=success",
		CancelURL:  s.cfg.StripePortalReturnURL + "?status=cancel",
		Metadata:   metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("plan", planName).Msg("Failed to create Stripe checkout session")
		return "", err
	}
	return url, nil
}

// CreatePortalSession creates a Stripe Customer Portal session for the team.
func (s *BillingService) CreatePortalSession(ctx context.Context, teamID string) (string, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("fetch team: %w", err)
	}
	if team == nil || team.StripeCustomerID == nil || *team.StripeCustomerID == "" {
		s.logger.Error().Str("team_id", teamID).Msg("No Stripe customer ID found for team when creating portal session")
		return "", fmt.Errorf("no stripe customer for team: %s", teamID)
	}
	url, err := s.stripe.NewPortalSession(ctx, *team.StripeCustomerID, s.cfg.StripePortalReturnURL)
	if err != nil {
		s.logger.Error().Err(err).Str("team_id", teamID).Msg("Failed to create Stripe billing portal session")
		return "", err
	}
	return url, nil
}
