package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"viraloop/internal/api/v1/router"
	"viraloop/internal/config"
	"viraloop/internal/cron"
	"viraloop/internal/logger"

	"github.com/joho/godotenv"
)

// @title Viraloop Billing API
// @version 1.0
// @description Credit ledger and subscription reconciliation service
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	logger := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// 2. Build router (and get DB pool + recurring credits job)
	r, pool, recurringJob, err := router.New(cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build router: %v", err)
	}
	defer pool.Close()

	// 3. Start the recurring credits scheduler
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	scheduler := cron.New(
		cron.JobFunc(func(ctx context.Context) { recurringJob.Run(ctx) }),
		cfg.RecurringCreditsHourUTC,
		time.Duration(cfg.RecurringCreditsStartupDelaySec)*time.Second,
		logger,
	)
	scheduler.Start(jobCtx)

	// 4. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 5. Start server in a goroutine
	go func() {
		logger.Info().Msgf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Msgf("Listen: %s\n", err)
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, exiting...")
	cancelJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Msgf("Server forced to shutdown: %v", err)
	}
	logger.Info().Msg("Server shut down gracefully")
}
