package repository

import (
	"context"
	"errors"
	"fmt"

	"viraloop/internal/model"
	"viraloop/internal/plans"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTeamNotFound is returned when a referenced team id does not exist.
var ErrTeamNotFound = errors.New("team_not_found")

// TeamRepository is the balance store: per-team credits plus plan limits.
// Credits are mutated only through the CreditRepository transactions.
type TeamRepository interface {
	GetByID(ctx context.Context, teamID string) (*model.Team, error)
	// UpdateLimits overwrites the team's plan limits and resets the usage
	// counters and period start. Limits are always recomputed whole, never
	// adjusted relative to a previous value.
	UpdateLimits(ctx context.Context, teamID string, limits plans.Limits) error
	UpdateStripeCustomerID(ctx context.Context, teamID, customerID string) error
}

type teamRepo struct {
	pool *pgxpool.Pool
}

// NewTeamRepo creates a new TeamRepository.
func NewTeamRepo(pool *pgxpool.Pool) TeamRepository {
	return &teamRepo{pool: pool}
}

func (r *teamRepo) GetByID(ctx context.Context, teamID string) (*model.Team, error) {
	const q = `
        SELECT id, name, credits, influencer_limit, image_limit, video_limit,
               images_used_this_month, videos_used_this_month, usage_period_start,
               stripe_customer_id, created_at, updated_at
        FROM teams
        WHERE id = $1
    `
	var t model.Team
	err := r.pool.QueryRow(ctx, q, teamID).Scan(
		&t.ID,
		&t.Name,
		&t.Credits,
		&t.InfluencerLimit,
		&t.ImageLimit,
		&t.VideoLimit,
		&t.ImagesUsedThisMonth,
		&t.VideosUsedThisMonth,
		&t.UsagePeriodStart,
		&t.StripeCustomerID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch team %s: %w", teamID, err)
	}
	return &t, nil
}

// updateTeamLimits runs the limits overwrite against any querier so the same
// statement serves standalone updates and the subscription transactions.
func updateTeamLimits(ctx context.Context, q querier, teamID string, limits plans.Limits) error {
	const query = `
        UPDATE teams
        SET influencer_limit = $2,
            image_limit = $3,
            video_limit = $4,
            images_used_this_month = 0,
            videos_used_this_month = 0,
            usage_period_start = NOW(),
            updated_at = NOW()
        WHERE id = $1
    `
	tag, err := q.Exec(ctx, query, teamID, limits.Influencers, limits.ImagesPerMonth, limits.VideosPerMonth)
	if err != nil {
		return fmt.Errorf("update limits for team %s: %w", teamID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTeamNotFound
	}
	return nil
}

func (r *teamRepo) UpdateLimits(ctx context.Context, teamID string, limits plans.Limits) error {
	return updateTeamLimits(ctx, r.pool, teamID, limits)
}

func (r *teamRepo) UpdateStripeCustomerID(ctx context.Context, teamID, customerID string) error {
	const q = `UPDATE teams SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, teamID, customerID)
	if err != nil {
		return fmt.Errorf("store stripe customer id for team %s: %w", teamID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTeamNotFound
	}
	return nil
}
