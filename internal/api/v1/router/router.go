package router

import (
	"context"
	"net/http"
	"strings"

	"viraloop/internal/api/v1/handler"
	"viraloop/internal/config"
	"viraloop/internal/middleware"
	"viraloop/internal/plans"
	"viraloop/internal/repository"
	"viraloop/internal/service"
	stripeclient "viraloop/internal/stripe"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires the full billing stack and returns the HTTP handler, the
// database pool and the recurring credits job for the caller to schedule.
func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, *service.RecurringCreditsJob, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	// Open DB connection (connection pooling)
	dsn := cfg.DBConnectionString
	// In a development environment, we want to ensure that SSL is disabled for
	// local testing. In production, the connection string should be provided
	// with the correct SSL settings.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "sslmode=disable"
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open DB connection")
		return nil, nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Initialize Stripe client and plan catalog
	stripeClient := stripeclient.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, logger)
	catalog := plans.NewCatalog(cfg)

	// Initialize repositories & services & handlers
	teamRepo := repository.NewTeamRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)

	creditSvc := service.NewCreditService(creditRepo, logger)
	billingSvc := service.NewBillingService(cfg, catalog, teamRepo, stripeClient, logger)
	reconciler := service.NewWebhookReconciler(subscriptionRepo, teamRepo, catalog, stripeClient, logger)
	recurringJob := service.NewRecurringCreditsJob(subscriptionRepo, creditSvc, logger)

	creditHandler := handler.NewCreditHandler(creditSvc, ledgerRepo, validate, logger)
	billingHandler := handler.NewBillingHandler(billingSvc, validate, logger)
	webhookHandler := handler.NewWebhookHandler(stripeClient, reconciler, logger)

	// Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	// Create ServeMux router with the API under /v1
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	creditHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	billingHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	// Webhook deliveries are authenticated by signature, not JWT.
	webhookHandler.RegisterRoutes(apiV1Mux)

	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), pool, recurringJob, nil
}
