package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"viraloop/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestPool connects to the database named by DATABASE_URL. The schema from
// migrations/001_init.sql must already be applied.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is not set, skip database integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func createTestTeam(t *testing.T, pool *pgxpool.Pool, credits int) string {
	t.Helper()
	ctx := context.Background()
	teamID := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO teams (id, name, credits) VALUES ($1, $2, $3)`, teamID, "test team", credits)
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM ledger_entries WHERE team_id = $1`, teamID)
		_, _ = pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	})
	return teamID
}

func TestSpendTx(t *testing.T) {
	pool := newTestPool(t)
	repo := NewCreditRepo(pool)
	ctx := context.Background()
	teamID := createTestTeam(t, pool, 50)

	balance, err := repo.SpendTx(ctx, teamID, 30, &model.LedgerEntry{
		TeamID: teamID, Credits: -30, Type: model.LedgerEntrySpending,
	})
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if balance != 20 {
		t.Errorf("balance after spend = %d, want 20", balance)
	}

	// A second spend over the remainder must fail and leave everything as is.
	balance, err = repo.SpendTx(ctx, teamID, 30, &model.LedgerEntry{
		TeamID: teamID, Credits: -30, Type: model.LedgerEntrySpending,
	})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if balance != 20 {
		t.Errorf("reported balance = %d, want untouched 20", balance)
	}

	stored, err := repo.GetBalance(ctx, teamID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if stored != 20 {
		t.Errorf("stored balance = %d, want 20", stored)
	}

	var entryCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE team_id = $1`, teamID).Scan(&entryCount); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entryCount != 1 {
		t.Errorf("ledger entry count = %d, want 1 (failed spend must not append)", entryCount)
	}
}

func TestSpendTxTeamNotFound(t *testing.T) {
	pool := newTestPool(t)
	repo := NewCreditRepo(pool)

	_, err := repo.SpendTx(context.Background(), uuid.NewString(), 10, &model.LedgerEntry{Credits: -10, Type: model.LedgerEntrySpending})
	if !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound, got %v", err)
	}
}

func TestGrantTxIdempotency(t *testing.T) {
	pool := newTestPool(t)
	repo := NewCreditRepo(pool)
	ctx := context.Background()
	teamID := createTestTeam(t, pool, 0)

	key := "test_grant_" + uuid.NewString()
	entry := func() *model.LedgerEntry {
		k := key
		return &model.LedgerEntry{TeamID: teamID, Credits: 1000, Type: model.LedgerEntryRecurring, IdempotencyKey: &k}
	}

	applied, err := repo.GrantTx(ctx, teamID, 1000, entry())
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !applied {
		t.Fatal("first grant not applied")
	}

	applied, err = repo.GrantTx(ctx, teamID, 1000, entry())
	if err != nil {
		t.Fatalf("duplicate grant: %v", err)
	}
	if applied {
		t.Fatal("duplicate grant applied, idempotency key did not gate the increment")
	}

	balance, err := repo.GetBalance(ctx, teamID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 1000 {
		t.Errorf("balance = %d, want 1000 after one effective grant", balance)
	}
}

func TestGrantTxConcurrentSameKey(t *testing.T) {
	pool := newTestPool(t)
	repo := NewCreditRepo(pool)
	ctx := context.Background()
	teamID := createTestTeam(t, pool, 0)

	key := "test_grant_" + uuid.NewString()
	const workers = 4
	var applied atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := key
			ok, err := repo.GrantTx(ctx, teamID, 500, &model.LedgerEntry{
				TeamID: teamID, Credits: 500, Type: model.LedgerEntryRecurring, IdempotencyKey: &k,
			})
			if err != nil {
				errs <- err
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent grant: %v", err)
	}

	if got := applied.Load(); got != 1 {
		t.Errorf("applied = %d, want exactly 1 for racing grants on one key", got)
	}
	balance, err := repo.GetBalance(ctx, teamID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 500 {
		t.Errorf("balance = %d, want 500 after one effective grant", balance)
	}
}

func TestGrantTxUnknownTeamRollsBackLedgerEntry(t *testing.T) {
	pool := newTestPool(t)
	repo := NewCreditRepo(pool)
	ctx := context.Background()

	key := "test_grant_" + uuid.NewString()
	_, err := repo.GrantTx(ctx, uuid.NewString(), 100, &model.LedgerEntry{
		Credits: 100, Type: model.LedgerEntryTopup, IdempotencyKey: &key,
	})
	if err == nil {
		t.Fatal("expected error for unknown team")
	}

	// The rollback must free the idempotency key for a later valid grant.
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = $1`, key).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("orphan ledger entry left behind for key %s", key)
	}
}
