package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"viraloop/internal/api/v1/dto"
	"viraloop/internal/middleware"
	"viraloop/internal/model"
	"viraloop/internal/repository"
	"viraloop/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// CreditHandler exposes the credit balance, spend and history endpoints.
type CreditHandler struct {
	creditSvc service.CreditService
	ledger    repository.LedgerRepository
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewCreditHandler creates a new CreditHandler.
func NewCreditHandler(creditSvc service.CreditService, ledger repository.LedgerRepository, validate *validator.Validate, logger zerolog.Logger) *CreditHandler {
	return &CreditHandler{creditSvc: creditSvc, ledger: ledger, validate: validate, logger: logger}
}

// RegisterRoutes registers the credit endpoints.
func (h *CreditHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/credits/balance", authMiddleware(http.HandlerFunc(h.Balance)))
	mux.Handle("/credits/spend", authMiddleware(http.HandlerFunc(h.Spend)))
	mux.Handle("/credits/history", authMiddleware(http.HandlerFunc(h.History)))
}

// Balance godoc
// @Summary Check a team's credit balance
// @Description Returns the balance and whether a prospective spend of `required` credits would be allowed.
// @Tags credits
// @Produce json
// @Param team_id query string true "Team ID"
// @Param required query int false "Prospective spend amount"
// @Success 200 {object} service.BalanceCheck
// @Failure 404 {string} string "team not found"
// @Router /credits/balance [get]
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		http.Error(w, "team_id is required", http.StatusBadRequest)
		return
	}
	required := 0
	if v := r.URL.Query().Get("required"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "required must be a non-negative integer", http.StatusBadRequest)
			return
		}
		required = n
	}

	check, err := h.creditSvc.CheckBalance(r.Context(), teamID, required)
	if err != nil {
		if errors.Is(err, repository.ErrTeamNotFound) {
			http.Error(w, "team not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("team_id", teamID).Msg("failed to check balance")
		http.Error(w, "failed to check balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, check)
}

// Spend godoc
// @Summary Deduct credits for a paid action
// @Description Atomically deducts credits and records a ledger entry. Insufficient funds return a classified 402.
// @Tags credits
// @Accept json
// @Produce json
// @Param spend body dto.SpendRequest true "Spend request"
// @Success 200 {object} service.SpendResult
// @Failure 402 {object} dto.InsufficientCreditsResponse
// @Failure 404 {string} string "team not found"
// @Router /credits/spend [post]
func (h *CreditHandler) Spend(w http.ResponseWriter, r *http.Request) {
	var req dto.SpendRequest
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

	res, err := h.creditSvc.Spend(r.Context(), req.TeamID, req.Amount, model.Attribution{
		UserID:       userID,
		SpendingType: req.SpendingType,
		InfluencerID: req.InfluencerID,
		PostID:       req.PostID,
		Platform:     req.Platform,
	})
	if err != nil {
		var insufficient *service.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(dto.InsufficientCreditsResponse{
				Code:      dto.ErrorCodeInsufficientCredits,
				Required:  insufficient.Required,
				Available: insufficient.Available,
			})
			return
		}
		if errors.Is(err, repository.ErrTeamNotFound) {
			http.Error(w, "team not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("team_id", req.TeamID).Msg("failed to spend credits")
		http.Error(w, "failed to spend credits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, res)
}

// History godoc
// @Summary List a team's ledger entries
// @Tags credits
// @Produce json
// @Param team_id query string true "Team ID"
// @Success 200 {array} model.LedgerEntry
// @Router /credits/history [get]
func (h *CreditHandler) History(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		http.Error(w, "team_id is required", http.StatusBadRequest)
		return
	}
	entries, err := h.ledger.ListByTeam(r.Context(), teamID, 100)
	if err != nil {
		h.logger.Error().Err(err).Str("team_id", teamID).Msg("failed to list ledger entries")
		http.Error(w, "failed to list ledger entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, h.logger, entries)
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
