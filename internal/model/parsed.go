package model

import "github.com/shopspring/decimal"

// ParsedEmail is the normalized result of parsing one payment
// confirmation email. It is constructed fresh per message and is never
// persisted directly: it is either promoted into a Donation or dropped.
type ParsedEmail struct {
	// TransactionID is the provider's opaque payment token
	// (13-19 alphanumeric/hyphen characters), the idempotency key.
	TransactionID string

	// Amount carries exactly two fraction digits.
	Amount decimal.Decimal

	// Currency is always SupportedCurrency for accepted records.
	Currency string

	// PayerName may be empty; a missing payer never rejects an email.
	PayerName string
}
