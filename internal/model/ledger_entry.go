package model

import "time"

// LedgerEntryType classifies a credit mutation.
type LedgerEntryType string

const (
	LedgerEntryRecurring LedgerEntryType = "recurring"
	LedgerEntryTopup     LedgerEntryType = "topup"
	LedgerEntrySpending  LedgerEntryType = "spending"
	LedgerEntryTrial     LedgerEntryType = "trial"
	LedgerEntrySpin      LedgerEntryType = "spin"
)

// LedgerEntry is one immutable row of the credit ledger. Credits are signed:
// positive for grants, negative for spends. When IdempotencyKey is set it is
// unique across the whole ledger; a second insert with the same key fails
// with repository.ErrDuplicateIdempotencyKey.
type LedgerEntry struct {
	ID              string          `db:"id" json:"id"`
	TeamID          string          `db:"team_id" json:"team_id"`
	UserID          string          `db:"user_id" json:"user_id"`
	Credits         int             `db:"credits" json:"credits"`
	AmountTotal     int64           `db:"amount_total" json:"amount_total"`
	Type            LedgerEntryType `db:"type" json:"type"`
	InfluencerID    *string         `db:"influencer_id" json:"influencer_id,omitempty"`
	PostID          *string         `db:"post_id" json:"post_id,omitempty"`
	Platform        *string         `db:"platform" json:"platform,omitempty"`
	SpendingType    *string         `db:"spending_type" json:"spending_type,omitempty"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	StripeSessionID *string         `db:"stripe_session_id" json:"stripe_session_id,omitempty"`
	StripeInvoiceID *string         `db:"stripe_invoice_id" json:"stripe_invoice_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Attribution carries the optional metadata recorded on a ledger entry.
type Attribution struct {
	UserID          string
	AmountTotal     int64
	InfluencerID    *string
	PostID          *string
	Platform        *string
	SpendingType    *string
	StripeSessionID *string
	StripeInvoiceID *string
}
