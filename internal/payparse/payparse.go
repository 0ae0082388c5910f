// Package payparse classifies normalized payment-email text into a
// structured donation record or a definitive rejection.
//
// The provider sends confirmation emails in German and English, as
// HTML or plain text, and uses near-identical wording for inbound
// payments, outbound payments, and withdrawals. Classification is a
// single ordered pass: outbound/withdrawal signals reject first, then
// the transaction code and amount are required, then the payer name is
// captured best-effort.
package payparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rako-fundraiser/donation-ingest/internal/amount"
	"github.com/rako-fundraiser/donation-ingest/internal/model"
)

// RejectionReason says why an email was definitively not a donation.
type RejectionReason string

const (
	ReasonNegativeSignal       RejectionReason = "negative_signal"
	ReasonMissingTransactionID RejectionReason = "missing_transaction_id"
	ReasonMissingAmount        RejectionReason = "missing_amount"
	ReasonBadAmount            RejectionReason = "bad_amount"
)

// Rejection is the parser's "not a donation" outcome. It is an error
// so it flows through the usual channels, but callers treat it as a
// classification result, not a fault.
type Rejection struct {
	Reason RejectionReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("not a donation (%s): %s", r.Reason, r.Detail)
}

// negativeSignals mark outbound payments, withdrawals, and payouts.
// Any match rejects the email before field extraction: a sent-payment
// confirmation also contains an amount and a transaction code, so
// field presence alone cannot tell the directions apart.
var negativeSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)you\s+sent\s+a\s+payment`),
	regexp.MustCompile(`(?i)you('|’)ve\s+sent`),
	regexp.MustCompile(`(?i)Sie\s+haben\s+eine\s+Zahlung\s+gesendet`),
	regexp.MustCompile(`(?i)Sie\s+haben\s+.{0,40}\s+gesendet\s+an`),
	regexp.MustCompile(`(?i)withdrawal`),
	regexp.MustCompile(`(?i)payout`),
	regexp.MustCompile(`(?i)Abbuchung`),
	regexp.MustCompile(`(?i)Auszahlung`),
	regexp.MustCompile(`(?i)bank\s+account\s+transfer`),
	regexp.MustCompile(`(?i)Geld\s+(?:an|auf)\s+Ihr\s+Bankkonto`),
}

var (
	// Provider transaction codes are 13-19 alphanumeric/hyphen chars
	// after a label in either language.
	txPattern = regexp.MustCompile(
		`(?i)(?:Transaction\s*ID|Transaktions(?:code|nummer))\s*:?\s*([A-Z0-9\-]{13,19})\b`,
	)

	// Labels meaning "amount received" beat generic amount labels:
	// some templates show both a gross and a fee line.
	amountReceivedPattern = regexp.MustCompile(
		`(?i)(?:Amount\s+received|Erhaltener\s+Betrag|Sie\s+haben\s+erhalten)\s*:?\s*([€\x{00a0}\x{202f} ]*[\d.,\x{00a0}\x{202f} ]+(?:€|EUR)?)`,
	)
	amountLabeledPattern = regexp.MustCompile(
		`(?i)(?:Amount|Betrag)\s*:\s*([€\x{00a0}\x{202f} ]*[\d.,\x{00a0}\x{202f} ]+(?:€|EUR)?)`,
	)
	// Last resort: any currency-marked numeric token anywhere.
	amountAnywherePattern = regexp.MustCompile(
		`(?:€|EUR)[\x{00a0}\x{202f} ]*([\d.,]+)|([\d.,]+)[\x{00a0}\x{202f} ]*(?:EUR\b|€)`,
	)

	payerLabeledPattern = regexp.MustCompile(
		`(?im)^(?:From|Von)\s*:\s*(.+)$`,
	)
	// Natural-language headings: "Max Mustermann hat Ihnen 12,50 €
	// gesendet" / "Max Mustermann sent you €12.50".
	payerHeadingPattern = regexp.MustCompile(
		`(?im)^(.{2,80}?)\s+(?:hat\s+Ihnen\b|sent\s+you\b)`,
	)
)

// Parse classifies normalized email text. Subject and sender header
// lines may be prepended by the caller as extra textual context; the
// parser does not distinguish them from body lines.
//
// Acceptance requires the negative-signal check to pass and both the
// transaction id and the amount to extract; the payer name never
// blocks acceptance and defaults to "".
func Parse(text string) (*model.ParsedEmail, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	for _, sig := range negativeSignals {
		if loc := sig.FindString(text); loc != "" {
			return nil, &Rejection{
				Reason: ReasonNegativeSignal,
				Detail: fmt.Sprintf("matched %q", loc),
			}
		}
	}

	txm := txPattern.FindStringSubmatch(text)
	if txm == nil {
		return nil, &Rejection{
			Reason: ReasonMissingTransactionID,
			Detail: "no labeled transaction code",
		}
	}

	rawAmount := findAmount(text)
	if rawAmount == "" {
		return nil, &Rejection{
			Reason: ReasonMissingAmount,
			Detail: "no labeled or currency-marked amount",
		}
	}

	value, err := amount.Parse(rawAmount)
	if err != nil {
		return nil, &Rejection{
			Reason: ReasonBadAmount,
			Detail: fmt.Sprintf("cannot normalize %q", rawAmount),
		}
	}

	return &model.ParsedEmail{
		TransactionID: strings.ToUpper(txm[1]),
		Amount:        value,
		Currency:      model.SupportedCurrency,
		PayerName:     findPayer(text),
	}, nil
}

// findAmount searches labeled fields first, most specific label first,
// then falls back to any currency-marked numeric token.
func findAmount(text string) string {
	if m := amountReceivedPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := amountLabeledPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := amountAnywherePattern.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				return strings.TrimSpace(g)
			}
		}
	}
	return ""
}

// findPayer prefers the explicit From/Von label over the heading form.
// The envelope sender line prepended by the scanner uses a different
// header name, so it cannot shadow the in-body label.
func findPayer(text string) string {
	if m := payerLabeledPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := payerHeadingPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
