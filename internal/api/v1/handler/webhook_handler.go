package handler

import (
	"io"
	"net/http"

	"viraloop/internal/service"
	stripeclient "viraloop/internal/stripe"

	"github.com/rs/zerolog"
)

// WebhookHandler receives Stripe webhook deliveries, verifies their
// signature and hands the event to the reconciler.
type WebhookHandler struct {
	stripe     *stripeclient.Client
	reconciler *service.WebhookReconciler
	logger     zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(stripe *stripeclient.Client, reconciler *service.WebhookReconciler, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{stripe: stripe, reconciler: reconciler, logger: logger}
}

// RegisterRoutes registers the webhook endpoint. Signature verification
// replaces auth middleware here.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/webhooks/stripe", http.HandlerFunc(h.Handle))
}

// Handle godoc
// @Summary Stripe webhook endpoint
// @Description Verifies the Stripe signature and reconciles the event.
// @Tags webhooks
// @Accept json
// @Success 200
// @Failure 400 {string} string "signature verification failed"
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	event, err := h.stripe.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	h.logger.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook received")

	if err := h.reconciler.Dispatch(r.Context(), event); err != nil {
		// Acknowledge anyway: the idempotency guards make a provider retry
		// safe but usually redundant, and a 5xx would force one.
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Failed to reconcile Stripe webhook event")
	}
	w.WriteHeader(http.StatusOK)
}
