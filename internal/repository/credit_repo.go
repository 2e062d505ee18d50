package repository

import (
	"context"
	"errors"
	"fmt"

	"viraloop/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInsufficientCredits signals that a spend would drive the balance
// negative. The service layer wraps it with the required/available amounts.
var ErrInsufficientCredits = errors.New("insufficient_credits")

// CreditRepository holds the two transactional primitives of the credit
// system. Each call is one atomic scope: either the balance mutation and the
// ledger append both land, or neither does.
type CreditRepository interface {
	// SpendTx locks the team row, checks funds, decrements the balance and
	// appends the (negative) ledger entry in one transaction. The returned
	// int is the balance after the spend, or the untouched balance when
	// ErrInsufficientCredits is returned.
	SpendTx(ctx context.Context, teamID string, amount int, e *model.LedgerEntry) (int, error)
	// GrantTx appends the ledger entry and then increments the balance in
	// one transaction. The ledger insert gates the balance mutation: on a
	// duplicate idempotency key the transaction is rolled back and (false,
	// nil) is returned with the balance untouched.
	GrantTx(ctx context.Context, teamID string, amount int, e *model.LedgerEntry) (bool, error)
	GetBalance(ctx context.Context, teamID string) (int, error)
}

type creditRepo struct {
	pool *pgxpool.Pool
}

// NewCreditRepo creates a new CreditRepository.
func NewCreditRepo(pool *pgxpool.Pool) CreditRepository {
	return &creditRepo{pool: pool}
}

func (r *creditRepo) SpendTx(ctx context.Context, teamID string, amount int, e *model.LedgerEntry) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("starting spend transaction for team %s: %w", teamID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var balance int
	const lockQ = `SELECT credits FROM teams WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQ, teamID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrTeamNotFound
		}
		return 0, fmt.Errorf("locking balance for team %s: %w", teamID, err)
	}
	if balance < amount {
		return balance, ErrInsufficientCredits
	}

	const decQ = `UPDATE teams SET credits = credits - $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.Exec(ctx, decQ, teamID, amount); err != nil {
		return 0, fmt.Errorf("decrementing balance for team %s: %w", teamID, err)
	}
	if err := insertLedgerEntry(ctx, tx, e); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing spend for team %s: %w", teamID, err)
	}
	return balance - amount, nil
}

func (r *creditRepo) GrantTx(ctx context.Context, teamID string, amount int, e *model.LedgerEntry) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("starting grant transaction for team %s: %w", teamID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Ledger first: when two processes race on the same idempotency key,
	// exactly one insert succeeds and the loser never reaches the increment.
	if err := insertLedgerEntry(ctx, tx, e); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return false, nil
		}
		return false, err
	}

	const incQ = `UPDATE teams SET credits = credits + $2, updated_at = NOW() WHERE id = $1`
	tag, err := tx.Exec(ctx, incQ, teamID, amount)
	if err != nil {
		return false, fmt.Errorf("incrementing balance for team %s: %w", teamID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrTeamNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing grant for team %s: %w", teamID, err)
	}
	return true, nil
}

func (r *creditRepo) GetBalance(ctx context.Context, teamID string) (int, error) {
	var balance int
	const q = `SELECT credits FROM teams WHERE id = $1`
	if err := r.pool.QueryRow(ctx, q, teamID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrTeamNotFound
		}
		return 0, fmt.Errorf("fetch balance for team %s: %w", teamID, err)
	}
	return balance, nil
}
