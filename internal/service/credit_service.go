package service

import (
	"context"
	"errors"
	"fmt"

	"viraloop/internal/metrics"
	"viraloop/internal/model"
	"viraloop/internal/repository"

	"github.com/rs/zerolog"
)

// InsufficientCreditsError is a business outcome, not a fault: callers are
// expected to route it to a "buy more credits" prompt instead of a generic
// error. It carries the amounts needed for that prompt.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// SpendResult reports a successful spend.
type SpendResult struct {
	CreditsUsed int `json:"credits_used"`
	Balance     int `json:"balance"`
}

// GrantResult reports the outcome of an idempotent grant. Applied is false
// when the idempotency key had already been used; the balance is untouched
// in that case.
type GrantResult struct {
	Applied      bool `json:"applied"`
	CreditsAdded int  `json:"credits_added"`
}

// BalanceCheck is the pre-flight view of a spend. It uses the same
// predicate as Spend (credits < required) so pre-flight and actual spend
// never disagree.
type BalanceCheck struct {
	Allowed   bool `json:"allowed"`
	Credits   int  `json:"credits"`
	Required  int  `json:"required"`
	Remaining int  `json:"remaining"`
}

// CreditService is the only entry point through which team balances and the
// ledger are mutated.
type CreditService interface {
	// Spend atomically checks funds, decrements the balance and appends one
	// spending ledger entry (credits stored as -amount). A zero amount is a
	// no-op: zero-cost actions don't need bookkeeping.
	Spend(ctx context.Context, teamID string, amount int, attr model.Attribution) (*SpendResult, error)
	// GrantIdempotent adds credits exactly once per idempotency key. The
	// ledger insert gates the balance increment, so a duplicate or racing
	// invocation returns Applied=false without touching the balance.
	GrantIdempotent(ctx context.Context, teamID string, amount int, typ model.LedgerEntryType, idempotencyKey string, attr model.Attribution) (*GrantResult, error)
	// CheckBalance is a pure read used for UI pre-flight checks.
	CheckBalance(ctx context.Context, teamID string, amount int) (*BalanceCheck, error)
}

type creditService struct {
	repo   repository.CreditRepository
	logger zerolog.Logger
}

// NewCreditService creates a new CreditService with a scoped logger.
func NewCreditService(repo repository.CreditRepository, logger zerolog.Logger) CreditService {
	return &creditService{
		repo:   repo,
		logger: logger.With().Str("service", "CreditService").Logger(),
	}
}

func (s *creditService) Spend(ctx context.Context, teamID string, amount int, attr model.Attribution) (*SpendResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("spend amount must be non-negative, got %d", amount)
	}
	if amount == 0 {
		return &SpendResult{CreditsUsed: 0}, nil
	}

	entry := newLedgerEntry(teamID, -amount, model.LedgerEntrySpending, nil, attr)
	balance, err := s.repo.SpendTx(ctx, teamID, amount, entry)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			s.logger.Info().Str("team_id", teamID).Int("required", amount).Int("available", balance).Msg("Spend rejected: insufficient credits")
			return nil, &InsufficientCreditsError{Required: amount, Available: balance}
		}
		s.logger.Error().Err(err).Str("team_id", teamID).Int("amount", amount).Msg("Failed to spend credits")
		return nil, err
	}
	metrics.CreditsSpent.Add(float64(amount))
	return &SpendResult{CreditsUsed: amount, Balance: balance}, nil
}

func (s *creditService) GrantIdempotent(ctx context.Context, teamID string, amount int, typ model.LedgerEntryType, idempotencyKey string, attr model.Attribution) (*GrantResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("grant amount must be non-negative, got %d", amount)
	}
	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	entry := newLedgerEntry(teamID, amount, typ, key, attr)
	applied, err := s.repo.GrantTx(ctx, teamID, amount, entry)
	if err != nil {
		s.logger.Error().Err(err).Str("team_id", teamID).Str("type", string(typ)).Int("amount", amount).Msg("Failed to grant credits")
		return nil, err
	}
	if !applied {
		s.logger.Info().Str("team_id", teamID).Str("idempotency_key", idempotencyKey).Msg("Grant already applied, skipping")
		return &GrantResult{Applied: false}, nil
	}
	metrics.CreditsGranted.WithLabelValues(string(typ)).Add(float64(amount))
	return &GrantResult{Applied: true, CreditsAdded: amount}, nil
}

func (s *creditService) CheckBalance(ctx context.Context, teamID string, amount int) (*BalanceCheck, error) {
	balance, err := s.repo.GetBalance(ctx, teamID)
	if err != nil {
		return nil, err
	}
	check := &BalanceCheck{
		Allowed:  balance >= amount,
		Credits:  balance,
		Required: amount,
	}
	if check.Allowed {
		check.Remaining = balance - amount
	}
	return check, nil
}

func newLedgerEntry(teamID string, credits int, typ model.LedgerEntryType, key *string, attr model.Attribution) *model.LedgerEntry {
	return &model.LedgerEntry{
		TeamID:          teamID,
		UserID:          attr.UserID,
		Credits:         credits,
		AmountTotal:     attr.AmountTotal,
		Type:            typ,
		InfluencerID:    attr.InfluencerID,
		PostID:          attr.PostID,
		Platform:        attr.Platform,
		SpendingType:    attr.SpendingType,
		IdempotencyKey:  key,
		StripeSessionID: attr.StripeSessionID,
		StripeInvoiceID: attr.StripeInvoiceID,
	}
}
