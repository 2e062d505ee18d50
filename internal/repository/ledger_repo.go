package repository

import (
	"context"
	"errors"
	"fmt"

	"viraloop/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateIdempotencyKey is returned when a ledger insert carries an
// idempotency key that is already present in the ledger. Callers treat this
// as "already applied, skip", not as a failure.
var ErrDuplicateIdempotencyKey = errors.New("duplicate_idempotency_key")

const uniqueViolationCode = "23505"

// querier is the subset of pgxpool.Pool and pgx.Tx the repositories share, so
// the same statement helpers serve both standalone calls and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerRepository reads the append-only credit event log. Entries are never
// updated or deleted, and every write happens inside one of the
// CreditRepository transactions.
type LedgerRepository interface {
	ListByTeam(ctx context.Context, teamID string, limit int) ([]model.LedgerEntry, error)
}

type ledgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo creates a new LedgerRepository.
func NewLedgerRepo(pool *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{pool: pool}
}

const insertLedgerEntryQuery = `
    INSERT INTO ledger_entries (
        id, team_id, user_id, credits, amount_total, type,
        influencer_id, post_id, platform, spending_type,
        idempotency_key, stripe_session_id, stripe_invoice_id
    )
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    RETURNING created_at
`

func insertLedgerEntry(ctx context.Context, q querier, e *model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := q.QueryRow(ctx, insertLedgerEntryQuery,
		e.ID, e.TeamID, e.UserID, e.Credits, e.AmountTotal, e.Type,
		e.InfluencerID, e.PostID, e.Platform, e.SpendingType,
		e.IdempotencyKey, e.StripeSessionID, e.StripeInvoiceID,
	).Scan(&e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert ledger entry for team %s: %w", e.TeamID, err)
	}
	return nil
}

func (r *ledgerRepo) ListByTeam(ctx context.Context, teamID string, limit int) ([]model.LedgerEntry, error) {
	const q = `
        SELECT id, team_id, user_id, credits, amount_total, type,
               influencer_id, post_id, platform, spending_type,
               idempotency_key, stripe_session_id, stripe_invoice_id, created_at
        FROM ledger_entries
        WHERE team_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, q, teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries for team %s: %w", teamID, err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.TeamID, &e.UserID, &e.Credits, &e.AmountTotal, &e.Type,
			&e.InfluencerID, &e.PostID, &e.Platform, &e.SpendingType,
			&e.IdempotencyKey, &e.StripeSessionID, &e.StripeInvoiceID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry for team %s: %w", teamID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries for team %s: %w", teamID, err)
	}
	return entries, nil
}
