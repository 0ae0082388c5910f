package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupportedCurrency is the only currency this provider's confirmation
// emails are accepted in.
const SupportedCurrency = "EUR"

// Donor is a person (or free-text name) donations are attributed to.
// Name is the identity key; matching is case-insensitive.
type Donor struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

// Donation is a single committed ledger entry. Amount always carries
// exactly two fraction digits. MessageID, when set, is the provider
// transaction identifier and is unique across all donations.
type Donation struct {
	ID        string          `db:"id"`
	Amount    decimal.Decimal `db:"amount"`
	DonorID   *string         `db:"donor_id"`
	MessageID *string         `db:"message_id"`
	CreatedAt time.Time       `db:"created_at"`
}

// Goal is a fundraising target. The ingestion pipeline never mutates
// goals; they exist for the read side (totals and progress).
type Goal struct {
	ID           string          `db:"id"`
	Title        string          `db:"title"`
	Description  string          `db:"description"`
	TargetAmount decimal.Decimal `db:"target_amount"`
	CreatedAt    time.Time       `db:"created_at"`
}
