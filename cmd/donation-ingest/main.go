// Command donation-ingest polls an IMAP mailbox for the payment
// provider's confirmation emails and reconciles them into the donation
// ledger. It is the entry point an operator or scheduler invokes; each
// invocation is one idempotent run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/rako-fundraiser/donation-ingest/internal/config"
	"github.com/rako-fundraiser/donation-ingest/internal/ingest"
	"github.com/rako-fundraiser/donation-ingest/internal/ledger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	var (
		dryRun    = flag.Bool("dry-run", false, "parse and report but do not write the ledger, state file, or mailbox flags")
		debug     = flag.Bool("debug", false, "log parse rejections with a body snippet")
		limit     = flag.Int("limit", 0, "max messages to process per run")
		folder    = flag.String("folder", "", "mailbox folder to scan")
		markSeen  = flag.Bool("mark-seen", true, "flag handled messages as seen")
		stateFile = flag.String("state-file", "", "idempotency state file path")
		dbPath    = flag.String("db", "", "sqlite ledger database path")
	)
	flag.Parse()

	// Only flags the operator actually set may override the
	// environment; defaults stay with the config layer.
	overrides := config.Overrides{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "limit":
			overrides.Limit = limit
		case "folder":
			overrides.Folder = folder
		case "mark-seen":
			overrides.MarkSeen = markSeen
		case "state-file":
			overrides.StatePath = stateFile
		case "db":
			overrides.LedgerDB = dbPath
		}
	})

	cfg, err := config.Load(overrides)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "donation-ingest",
	})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	store, err := ledger.Open(cfg.LedgerDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	logger.Info("connecting to mailbox",
		"host", cfg.IMAP.Host, "user", cfg.IMAP.User, "folder", cfg.IMAP.Folder)

	mailbox, err := ingest.DialIMAP(ctx, ingest.IMAPConfig{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.User,
		Password: cfg.IMAP.Password,
		TLS:      cfg.IMAP.TLS,
		Folder:   cfg.IMAP.Folder,
	})
	if err != nil {
		if ingest.IsAuthError(err) {
			logger.Error("mailbox authentication failed; no message was touched")
		}
		return err
	}
	defer func() {
		if cerr := mailbox.Close(); cerr != nil {
			logger.Warn("closing mailbox session", "err", cerr)
		}
	}()

	runner := ingest.NewRunner(mailbox, store, logger, ingest.Options{
		DryRun:    *dryRun,
		Debug:     *debug,
		Limit:     cfg.Limit,
		MarkSeen:  cfg.MarkSeen,
		StatePath: cfg.StatePath,
	})

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Done. %s\n", summary)
	return nil
}
