package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	// Stripe settings
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripePortalReturnURL string `envconfig:"STRIPE_PORTAL_RETURN_URL" required:"true"`

	// Price IDs for the plan catalog. Limits and monthly credit amounts are
	// keyed by plan name; these map Stripe prices onto those plans.
	StripePriceStarter string `envconfig:"STRIPE_PRICE_STARTER" required:"true"`
	StripePriceGrowth  string `envconfig:"STRIPE_PRICE_GROWTH" required:"true"`
	StripePriceScale   string `envconfig:"STRIPE_PRICE_SCALE" required:"true"`
	StripePriceTrial   string `envconfig:"STRIPE_PRICE_TRIAL" required:"true"`

	// Recurring credits job settings. The job runs once at a fixed UTC hour
	// every day and once more shortly after startup to cover missed runs.
	RecurringCreditsHourUTC         int `envconfig:"RECURRING_CREDITS_HOUR_UTC" default:"2"`
	RecurringCreditsStartupDelaySec int `envconfig:"RECURRING_CREDITS_STARTUP_DELAY_SEC" default:"120"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
