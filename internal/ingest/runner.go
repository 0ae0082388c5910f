// Package ingest walks a remote mailbox, parses payment confirmation
// emails, and reconciles them into the donation ledger idempotently.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-imap/v2"

	"github.com/rako-fundraiser/donation-ingest/internal/extract"
	"github.com/rako-fundraiser/donation-ingest/internal/ledger"
	"github.com/rako-fundraiser/donation-ingest/internal/payparse"
	"github.com/rako-fundraiser/donation-ingest/internal/state"
)

// Options are the per-run knobs for the ingestion loop. They arrive
// fully resolved (flag > environment > default) from the config layer.
type Options struct {
	// DryRun parses and reports but never writes the ledger, the
	// state file, or mailbox flags.
	DryRun bool

	// Debug logs a body snippet for every parse rejection.
	Debug bool

	// Limit bounds how many messages one run will process.
	Limit int

	// MarkSeen flags handled messages so they drop out of the
	// unseen search on later runs.
	MarkSeen bool

	// StatePath is the idempotency state file location.
	StatePath string
}

// Summary is the outcome report every run produces, success or not.
type Summary struct {
	Processed    int
	Created      int
	Duplicates   int
	ParseFailed  int
	FetchFailed  int
	CommitFailed int
	StatePath    string
}

func (s *Summary) String() string {
	return fmt.Sprintf(
		"processed=%d created=%d duplicates=%d parse_failed=%d fetch_failed=%d state=%s",
		s.Processed, s.Created, s.Duplicates, s.ParseFailed, s.FetchFailed, s.StatePath,
	)
}

// Runner executes one ingestion run against an open mailbox session.
// The caller owns the session and closes it after Run returns.
type Runner struct {
	mailbox Mailbox
	ledger  ledger.Store
	logger  *log.Logger
	opts    Options
}

// NewRunner wires an ingestion run. The mailbox must already be
// authenticated with the target folder selected.
func NewRunner(
	mailbox Mailbox,
	store ledger.Store,
	logger *log.Logger,
	opts Options,
) *Runner {
	return &Runner{
		mailbox: mailbox,
		ledger:  store,
		logger:  logger,
		opts:    opts,
	}
}

// Run scans the mailbox once, sequentially. Unseen messages are
// preferred; when there are none the most recent messages are scanned
// instead, bounded by the limit. Each accepted email is committed
// exactly once: the dedup state and the ledger's unique message-id
// constraint cooperate, and the seen flag only advances after a
// successful commit. The dedup state is persisted once at the end of a
// real (non-dry) run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StatePath: r.opts.StatePath}
	seen := state.Load(r.opts.StatePath)
	r.logger.Info("loaded idempotency state",
		"path", r.opts.StatePath, "known_tx", len(seen))

	uids, err := r.selectUIDs(ctx)
	if err != nil {
		return summary, err
	}
	if len(uids) == 0 {
		r.logger.Info("no messages to process")
		r.logger.Info("run complete", "summary", summary.String())
		return summary, nil
	}

	for _, uid := range uids {
		if ctx.Err() != nil {
			return summary, fmt.Errorf("scan interrupted: %w", ctx.Err())
		}
		r.processMessage(ctx, uid, seen, summary)
	}

	if !r.opts.DryRun {
		if err := state.Save(r.opts.StatePath, seen); err != nil {
			// Committed ledger rows stay committed; a future run may
			// re-encounter them and fall back on the message-id
			// constraint. Report, do not fail the run.
			r.logger.Warn("failed to persist idempotency state", "err", err)
		}
	}

	r.logger.Info("run complete", "summary", summary.String())
	return summary, nil
}

// selectUIDs prefers unseen messages and falls back to the most recent
// messages overall, both bounded by the limit.
func (r *Runner) selectUIDs(ctx context.Context) ([]imap.UID, error) {
	uids, err := r.mailbox.SearchUnseen(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}
	if len(uids) > 0 {
		if r.opts.Limit > 0 && len(uids) > r.opts.Limit {
			uids = uids[:r.opts.Limit]
		}
		return uids, nil
	}

	uids, err = r.mailbox.SearchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching all messages: %w", err)
	}
	if r.opts.Limit > 0 && len(uids) > r.opts.Limit {
		uids = uids[len(uids)-r.opts.Limit:]
	}
	return uids, nil
}

func (r *Runner) processMessage(
	ctx context.Context,
	uid imap.UID,
	seen map[string]struct{},
	summary *Summary,
) {
	msg, err := r.mailbox.Fetch(ctx, uid)
	if err != nil {
		summary.FetchFailed++
		r.logger.Warn("fetch failed", "uid", uid, "err", err)
		return
	}

	summary.Processed++

	// Cheap sender/subject gate before MIME extraction. The parser
	// would reject these anyway, but most inbox traffic is not from
	// the provider at all.
	if !looksLikeProvider(msg) {
		summary.ParseFailed++
		r.markHandled(ctx, uid)
		return
	}

	text := fmt.Sprintf(
		"Subject: %s\nFrom-Header: %s\n\n%s",
		msg.Subject, msg.From, extract.FromMessage(msg.Raw),
	)

	rec, err := payparse.Parse(text)
	if err != nil {
		summary.ParseFailed++
		var rej *payparse.Rejection
		if errors.As(err, &rej) && r.opts.Debug {
			snippet := text
			if len(snippet) > 400 {
				snippet = snippet[:400]
			}
			r.logger.Debug("parse rejection",
				"uid", uid,
				"reason", rej.Reason,
				"subject", msg.Subject,
				"from", msg.From,
				"snippet", strings.ReplaceAll(snippet, "\n", " "),
			)
		}
		r.markHandled(ctx, uid)
		return
	}

	if _, dup := seen[rec.TransactionID]; dup {
		summary.Duplicates++
		r.logger.Info("duplicate transaction",
			"uid", uid, "tx", rec.TransactionID)
		r.markHandled(ctx, uid)
		return
	}

	if r.opts.DryRun {
		r.logger.Info("dry-run: would create donation",
			"tx", rec.TransactionID,
			"amount", rec.Amount.StringFixed(2),
			"currency", rec.Currency,
			"payer", rec.PayerName,
		)
		return
	}

	var donorID *string
	if rec.PayerName != "" {
		donor, err := r.ledger.FindOrCreateDonor(ctx, rec.PayerName)
		if err != nil {
			summary.CommitFailed++
			r.logger.Error("donor resolution failed",
				"uid", uid, "payer", rec.PayerName, "err", err)
			return
		}
		donorID = &donor.ID
	}

	_, err = r.ledger.CreateDonation(ctx, rec.Amount, donorID, rec.TransactionID)
	if errors.Is(err, ledger.ErrDuplicateMessage) {
		// The ledger already holds this transaction (state file was
		// lost or lagging). Repair the in-memory set so it persists.
		summary.Duplicates++
		seen[rec.TransactionID] = struct{}{}
		r.markHandled(ctx, uid)
		return
	}
	if err != nil {
		// Neither the dedup set nor the seen flag advances, so the
		// message is retried on a later run.
		summary.CommitFailed++
		r.logger.Error("donation commit failed",
			"uid", uid, "tx", rec.TransactionID, "err", err)
		return
	}

	seen[rec.TransactionID] = struct{}{}
	summary.Created++
	r.logger.Info("donation created",
		"tx", rec.TransactionID,
		"amount", rec.Amount.StringFixed(2),
		"payer", rec.PayerName,
	)
	r.markHandled(ctx, uid)
}

// markHandled advances the seen flag when configured to, never in
// dry-run mode.
func (r *Runner) markHandled(ctx context.Context, uid imap.UID) {
	if !r.opts.MarkSeen || r.opts.DryRun {
		return
	}
	if err := r.mailbox.MarkSeen(ctx, uid); err != nil {
		r.logger.Warn("failed to mark message seen", "uid", uid, "err", err)
	}
}

// looksLikeProvider gates on the sender or subject mentioning the
// provider. Filtering happens after fetch rather than in the mailbox
// search so exactly one selection strategy decides which messages the
// parser ever sees.
func looksLikeProvider(msg *Message) bool {
	return strings.Contains(strings.ToLower(msg.From), "paypal") ||
		strings.Contains(strings.ToLower(msg.Subject), "paypal")
}
