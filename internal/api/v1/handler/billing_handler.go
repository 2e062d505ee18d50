package handler

import (
	"encoding/json"
	"net/http"

	"viraloop/internal/api/v1/dto"
	"viraloop/internal/middleware"
	"viraloop/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingHandler handles checkout and customer portal endpoints.
type BillingHandler struct {
	billingSvc *service.BillingService
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(billingSvc *service.BillingService, validate *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{billingSvc: billingSvc, validate: validate, logger: logger}
}

// RegisterRoutes registers the billing endpoints.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/billing/checkout", authMiddleware(http.HandlerFunc(h.Checkout)))
	mux.Handle("/billing/portal", authMiddleware(http.HandlerFunc(h.Portal)))
}

// Checkout godoc
// @Summary Initiate a Stripe Checkout session for a plan
// @Description Creates a Stripe Checkout session and returns its URL.
// @Tags billing
// @Accept json
// @Produce json
// @Param checkout body dto.CheckoutRequest true "Checkout request"
// @Success 200 {object} map[string]string "URL of the Stripe Checkout session"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to create checkout session"
// @Router /billing/checkout [post]
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	url, err := h.billingSvc.CreateCheckoutSession(r.Context(), userID, req.TeamID, req.Plan)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create checkout session")
		http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, map[string]string{"url": url})
}

// Portal godoc
// @Summary Create a Stripe Customer Portal session
// @Tags billing
// @Produce json
// @Param team_id query string true "Team ID"
// @Success 200 {object} map[string]string "URL of the Customer Portal session"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to create portal session"
// @Router /billing/portal [get]
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		http.Error(w, "team_id is required", http.StatusBadRequest)
		return
	}
	url, err := h.billingSvc.CreatePortalSession(r.Context(), teamID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create portal session")
		http.Error(w, "failed to create portal session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, map[string]string{"url": url})
}
